// ABOUTME: Tests for the HTTP and Charm sinks
// ABOUTME: Uses httptest for the field API and the in-memory charm client
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/harperreed/fieldsync/charm"
	"github.com/harperreed/fieldsync/models"
)

var fixedNow = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func testAction(t *testing.T) models.Action {
	t.Helper()
	a, err := models.NewAction("dev-1", "AST-001", models.ScanLogPayload{Code: "AST-001", Method: "qr"},
		&models.Geo{Lat: -1.29, Lng: 36.82, Accuracy: 8}, fixedNow.Add(-time.Hour))
	require.NoError(t, err)
	return a
}

func TestHTTPSubmit(t *testing.T) {
	a := testAction(t)

	var got Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ActionsPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, a.ID, r.Header.Get("Idempotency-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL+"/", &oauth2.Token{AccessToken: "secret", TokenType: "Bearer"},
		WithAttribution(Attribution{TenantID: "t-1", UserID: "u-1"}))

	require.NoError(t, h.Submit(context.Background(), a))
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "scan_log", got.ActionType)
	assert.JSONEq(t, `{"code":"AST-001","method":"qr"}`, string(got.ActionData))
	require.NotNil(t, got.Lat)
	assert.Equal(t, -1.29, *got.Lat)
	assert.Nil(t, got.SyncedAt, "synced_at is assigned by the server")
	assert.Equal(t, "t-1", got.TenantID)
}

func TestHTTPSubmitPending(t *testing.T) {
	entry := models.PendingSyncEntry{
		ID:        uuid.New(),
		Type:      "visitor_checkin",
		Data:      json.RawMessage(`{"visitor":"V-7"}`),
		CreatedAt: fixedNow,
	}

	var got PendingRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PendingPath, r.URL.Path)
		assert.Equal(t, entry.ID.String(), r.Header.Get("Idempotency-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL, nil, WithAttribution(Attribution{TenantID: "t-1", DeviceID: "dev-1"}))
	require.NoError(t, h.SubmitPending(context.Background(), entry))
	assert.Equal(t, entry.ID.String(), got.ID)
	assert.Equal(t, "visitor_checkin", got.Type)
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.JSONEq(t, `{"visitor":"V-7"}`, string(got.Data))
}

func TestHTTPSubmitErrors(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		conflict bool
	}{
		{"conflict", http.StatusConflict, true},
		{"server error", http.StatusInternalServerError, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			err := NewHTTP(srv.URL, nil).Submit(context.Background(), testAction(t))
			require.Error(t, err)
			assert.Equal(t, tt.conflict, errors.Is(err, ErrConflict))

			var serr *StatusError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, tt.code, serr.Code)
			assert.Equal(t, "nope", serr.Body)
		})
	}
}

func TestHTTPSubmitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewHTTP(srv.URL, nil).Submit(ctx, testAction(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCharmSubmit(t *testing.T) {
	client := charm.NewTestClient(t)
	s := NewCharm(client, Attribution{UserID: "u-1"})
	a := testAction(t)

	require.NoError(t, s.Submit(context.Background(), a))
	require.NoError(t, s.Submit(context.Background(), a))

	raw, err := client.Get(Key(a.ID))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, a.ID, rec.ID)
	assert.Equal(t, "u-1", rec.UserID)
	assert.NotNil(t, rec.SyncedAt, "charm records are stamped locally")

	keys, err := client.KeysWithPrefix([]byte(KeyPrefix))
	require.NoError(t, err)
	assert.Len(t, keys, 1, "resubmission overwrites the same key")
	assert.GreaterOrEqual(t, charm.SyncCount(client), 2)
}

type blockingKV struct {
	release chan struct{}
}

func (b *blockingKV) Set(key, value []byte) error { return nil }

func (b *blockingKV) Sync() error {
	<-b.release
	return nil
}

func TestCharmSubmitHonorsContext(t *testing.T) {
	kv := &blockingKV{release: make(chan struct{})}
	defer close(kv.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewCharm(kv, Attribution{}).Submit(ctx, testAction(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCharmSubmitPending(t *testing.T) {
	client := charm.NewTestClient(t)
	entry := models.PendingSyncEntry{ID: uuid.New(), Type: "worker_check", Data: json.RawMessage(`{"id":"W-1"}`)}

	require.NoError(t, NewCharm(client, Attribution{}).SubmitPending(context.Background(), entry))

	raw, err := client.Get(PendingKey(entry.ID.String()))
	require.NoError(t, err)
	var rec PendingRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "worker_check", rec.Type)
}

func TestFuncAdapter(t *testing.T) {
	var seen string
	f := Func(func(ctx context.Context, a models.Action) error {
		seen = a.ID
		return nil
	})
	a := testAction(t)
	require.NoError(t, f.Submit(context.Background(), a))
	assert.Equal(t, a.ID, seen)
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")

	tok, err := LoadToken(path)
	require.NoError(t, err)
	assert.Nil(t, tok)
	assert.False(t, TokenSession{Token: tok}.Authenticated())

	require.NoError(t, SaveToken(path, &oauth2.Token{AccessToken: "abc", TokenType: "Bearer"}))
	tok, err = LoadToken(path)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.True(t, TokenSession{Token: tok}.Authenticated())

	expired := &oauth2.Token{AccessToken: "abc", Expiry: time.Now().Add(-time.Hour)}
	assert.False(t, TokenSession{Token: expired}.Authenticated())
}
