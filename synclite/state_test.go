package synclite

import (
	"context"
	"testing"
	"time"

	"github.com/alexzeb78/taury-crm/syncserver"
	"github.com/stretchr/testify/require"
)

func TestSetServerURLValidation(t *testing.T) {
	client := newTestClient(t, "")

	require.NoError(t, client.SetServerURL("http://localhost:8080"))
	require.NoError(t, client.SetServerURL("https://crm.example.com/api"))

	for _, bad := range []string{
		"",
		"not a url",
		"ftp://example.com",
		"/relative/path",
		"example.com", // no scheme
	} {
		require.Error(t, client.SetServerURL(bad), "should reject %q", bad)
	}

	// A rejected URL must not clobber the stored one
	url, err := client.ServerURL()
	require.NoError(t, err)
	require.Equal(t, "https://crm.example.com/api", url)
}

func TestStatusReportsOffline(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1") // nothing listens here
	ctx := context.Background()

	_, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "x"})
	require.NoError(t, err)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	require.False(t, status.IsOnline)
	require.False(t, status.IsSyncing)
	require.Zero(t, status.LastSync)
	require.Equal(t, 1, status.PendingChanges)
	require.Equal(t, "http://127.0.0.1:1", status.ServerURL)
}

func TestStatusReportsOnline(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, server.srv.URL)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.IsOnline)
}

func TestRequestSyncRejectsConcurrentSessions(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, server.srv.URL)
	ctx := context.Background()

	_, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "x"})
	require.NoError(t, err)

	// Block the first session inside push until we let it go
	release := make(chan struct{})
	entered := make(chan struct{})
	server.pushFn = func(req *syncserver.PushRequest) *syncserver.PushResponse {
		close(entered)
		<-release
		return applyAllStatuses(req)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := client.Sync(ctx)
		firstDone <- err
	}()

	<-entered
	_, err = client.Sync(ctx)
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-firstDone)

	// Gate released, a new session is accepted again
	result, err := client.Sync(ctx)
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestSubscribeReceivesStatusUpdates(t *testing.T) {
	server := newFakeServer(t)
	client := newTestClient(t, server.srv.URL)
	ctx := context.Background()

	ch, cancel := client.Subscribe()
	defer cancel()

	_, err := client.Upsert(ctx, "customers", "", map[string]any{"name": "x"})
	require.NoError(t, err)

	_, err = client.Sync(ctx)
	require.NoError(t, err)

	select {
	case status := <-ch:
		// Latest-wins channel: after the session the engine is idle
		require.False(t, status.IsSyncing)
	case <-time.After(2 * time.Second):
		t.Fatal("no status update received")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	client := newTestClient(t, "")

	ch, cancel := client.Subscribe()
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Double cancel is safe
	cancel()
}
