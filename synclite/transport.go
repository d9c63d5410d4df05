// Copyright 2026 The taury-crm Authors
// SPDX-License-Identifier: Apache-2.0

package synclite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexzeb78/taury-crm/syncserver"
)

// Transport is the thin HTTP layer of the sync engine. It does exactly one
// request per call and never retries; retry policy belongs to the session
// layer, which re-pushes journaled changes on the next sync.
type Transport struct {
	HTTP     *http.Client
	Token    func(context.Context) (string, error)
	DeviceID string
}

const probeTimeout = 5 * time.Second

// Push uploads a batch of local changes.
func (t *Transport) Push(ctx context.Context, baseURL string, req *syncserver.PushRequest) (*syncserver.PushResponse, error) {
	url := strings.TrimRight(baseURL, "/") + "/sync/push"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: "push", URL: url, Err: err}
	}

	var resp syncserver.PushResponse
	if err := t.doJSON(ctx, "push", http.MethodPost, url, bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull downloads every remote change applied after the watermark.
func (t *Transport) Pull(ctx context.Context, baseURL string, since int64) (*syncserver.PullResponse, error) {
	url := strings.TrimRight(baseURL, "/") + "/sync/pull?since=" + strconv.FormatInt(since, 10)

	var resp syncserver.PullResponse
	if err := t.doJSON(ctx, "pull", http.MethodGet, url, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe checks server reachability with a short deadline. A probe failure is
// a normal offline signal, not an error.
func (t *Transport) Probe(ctx context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	url := strings.TrimRight(baseURL, "/") + "/healthz"

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := t.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// doJSON performs one authenticated request and decodes the JSON reply.
func (t *Transport) doJSON(ctx context.Context, op, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &TransportError{Op: op, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := t.Token(ctx)
	if err != nil {
		return &TransportError{Op: op, URL: url, Err: fmt.Errorf("token: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.HTTP.Do(req)
	if err != nil {
		return &TransportError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp syncserver.ErrorResponse
		msg := http.StatusText(resp.StatusCode)
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Message != "" {
			msg = errResp.Message
		}
		return &TransportError{Op: op, URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", msg)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, URL: url, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
