package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slothwake/sloth/internal/protocol"
	"github.com/slothwake/sloth/internal/session"
)

// httpClient implements orchestrator.Client over the server's JSON API,
// translating transport statuses back to the protocol sentinels.
type httpClient struct {
	base string
	hc   *http.Client
}

func newHTTPClient(base string) *httpClient {
	return &httpClient{base: base, hc: &http.Client{Timeout: 30 * time.Second}}
}

func (c *httpClient) Start(ctx context.Context, alarmTime, userName string) (*protocol.StartResult, error) {
	var res protocol.StartResult
	err := c.post(ctx, "/session/start", map[string]string{
		"alarm_time": alarmTime,
		"user_name":  userName,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *httpClient) Validate(ctx context.Context, sessionID, typed, spoken string) (*protocol.ValidateResult, error) {
	var res protocol.ValidateResult
	err := c.post(ctx, "/session/validate", map[string]string{
		"session_id": sessionID,
		"keyword":    typed,
		"spoken":     spoken,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *httpClient) Nudge(ctx context.Context, sessionID string) (*protocol.StartResult, error) {
	var res protocol.StartResult
	err := c.post(ctx, "/session/nudge", map[string]string{"session_id": sessionID}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *httpClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		return session.ErrNotFound
	case http.StatusBadRequest:
		return protocol.ErrInvalidPhase
	case http.StatusForbidden:
		return protocol.ErrFeatureDisabled
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(msg))
	}
}
