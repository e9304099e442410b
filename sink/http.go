// ABOUTME: HTTP sink posting offline actions to the field API
// ABOUTME: Bearer-token auth via oauth2 and the action id as idempotency key
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/harperreed/fieldsync/models"
)

const (
	// ActionsPath is where the field API accepts offline actions.
	ActionsPath = "/api/offline-actions"
	// PendingPath is where the field API accepts pending cache writes.
	PendingPath = "/api/pending-sync"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// HTTP submits records to a field API server.
type HTTP struct {
	server string
	client *http.Client
	who    Attribution
}

// HTTPOption configures an HTTP sink.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the underlying transport client. Authentication is then the caller's job.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithAttribution sets the tenant and user written on every record.
func WithAttribution(who Attribution) HTTPOption {
	return func(h *HTTP) { h.who = who }
}

// NewHTTP creates a sink for server authenticating with token.
func NewHTTP(server string, token *oauth2.Token, opts ...HTTPOption) *HTTP {
	h := &HTTP{server: strings.TrimRight(server, "/")}
	if token != nil {
		h.client = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(token))
	} else {
		h.client = http.DefaultClient
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit posts one action. 409 maps to ErrConflict so the coordinator parks the action.
func (h *HTTP) Submit(ctx context.Context, a models.Action) error {
	return h.post(ctx, h.server+ActionsPath, a.ID, NewRecord(a, h.who))
}

// SubmitPending posts one pending cache write.
func (h *HTTP) SubmitPending(ctx context.Context, e models.PendingSyncEntry) error {
	return h.post(ctx, h.server+PendingPath, e.ID.String(), NewPendingRecord(e, h.who))
}

func (h *HTTP) post(ctx context.Context, url, key string, record any) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	serr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %w", ErrConflict, serr)
	}
	return serr
}
