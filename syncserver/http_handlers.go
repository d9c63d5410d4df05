// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// ClientAuthenticator extracts both user and device identity from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide both identifiers.
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
	GetSourceID(r *http.Request) (string, error)
}

// HTTPSyncHandlers provides HTTP handlers for the push/pull sync API.
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers.
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// HandlePush processes a batch push with per-record conflict resolution.
func (h *HTTPSyncHandlers) HandlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST method is allowed")
		return
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	sourceID, err := h.authenticator.GetSourceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	var pushReq PushRequest
	if err := json.NewDecoder(r.Body).Decode(&pushReq); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse push request")
		return
	}

	response, err := h.service.ProcessPush(r.Context(), userID, sourceID, &pushReq)
	if err != nil {
		h.logger.Error("Failed to process push", "error", err, "source_id", sourceID)
		h.writeError(w, http.StatusInternalServerError, "push_failed", "Failed to process push")
		return
	}

	h.writeJSON(w, response, sourceID)
}

// HandlePull serves all remote changes applied after the client's watermark.
func (h *HTTPSyncHandlers) HandlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}

	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	sourceID, err := h.authenticator.GetSourceID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
		return
	}

	since := int64(0)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsedSince, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "since must be an integer")
			return
		}
		if parsedSince < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "since must be >= 0")
			return
		}
		since = parsedSince
	}

	response, err := h.service.ProcessPull(r.Context(), userID, since)
	if err != nil {
		h.logger.Error("Failed to process pull", "error", err, "source_id", sourceID)
		h.writeError(w, http.StatusInternalServerError, "pull_failed", "Failed to process pull")
		return
	}

	h.writeJSON(w, response, sourceID)
}

// HandleHealth answers the client's connectivity probe. No auth so a device
// can check reachability before it has a token.
func (h *HTTPSyncHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET method is allowed")
		return
	}
	h.writeJSON(w, HealthResponse{Status: "ok", AppName: h.service.config.AppName}, "")
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, response any, sourceID string) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode response", "error", err, "source_id", sourceID)
	}
}

func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: code, Message: message})
}
