package syncserver

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJWTAuth_RoundTrip(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "device-a", claims.DeviceID)
}

func TestJWTAuth_WrongSecret(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	other := NewJWTAuth("other-secret")

	token, err := auth.GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestJWTAuth_ExpiredToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("user-1", "device-a", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestJWTAuth_RequestExtraction(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("user-1", "device-a", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/sync/pull", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	userID, err := auth.GetUserID(r)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)

	sourceID, err := auth.GetSourceID(r)
	require.NoError(t, err)
	require.Equal(t, "device-a", sourceID)
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	r := httptest.NewRequest("GET", "/sync/pull", nil)
	_, err := auth.GetUserID(r)
	require.Error(t, err)

	r.Header.Set("Authorization", "Basic abc")
	_, err = auth.GetSourceID(r)
	require.Error(t, err)
}
