package panel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starlight-labs/starshop/internal/config"
	"github.com/starlight-labs/starshop/internal/models"
)

func newTestClient(t *testing.T, serverURL string, maxAttempts int) *Client {
	t.Helper()
	c := NewClient(config.Panel{
		PanelURL:     serverURL,
		PanelToken:   "test-token",
		TLSVerify:    true,
		CallTimeout:  2 * time.Second,
		MaxAttempts:  maxAttempts,
		RateLimitRPS: 1000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.backoffBase = time.Millisecond // тесты не ждут настоящий backoff
	return c
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"response": {"uuid": "u-1", "username": "tg_1", "status": "ACTIVE"}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	user, err := client.GetUser(context.Background(), "u-1")

	require.NoError(t, err)
	assert.Equal(t, "u-1", user.UUID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_TransientExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.ListNodes(context.Background())

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_PermanentNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "username already exists"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3)
	_, err := client.CreateUser(context.Background(), CreateUserRequest{Username: "tg_1"})

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestClient_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	_, err := client.GetUser(context.Background(), "missing")

	require.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsPermanent(err))
}

func TestClient_UnwrapsDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"name": "node-1", "status": "connected"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1)
	nodes, err := client.ListNodes(context.Background())

	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Online())
}

func TestTime_UnmarshalPanelFormats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"plain", `"2026-09-30T12:00:00"`, time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)},
		{"zulu", `"2026-09-30T12:00:00Z"`, time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)},
		{"fractional", `"2026-09-30T12:00:00.123456Z"`, time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pt Time
			require.NoError(t, pt.UnmarshalJSON([]byte(tt.raw)))
			assert.True(t, pt.Equal(tt.want))
		})
	}
}

func TestResetStrategy(t *testing.T) {
	assert.Equal(t, "NO_RESET", ResetStrategy(models.ResetNone))
	assert.Equal(t, "MONTH", ResetStrategy(models.ResetMonth))
}
