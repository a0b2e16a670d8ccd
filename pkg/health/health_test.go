package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyEndpoint_NotReadyByDefault(t *testing.T) {
	h := New()

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyEndpoint_ReadyAfterSetReady(t *testing.T) {
	h := New()
	h.SetReady(true)

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestFailingProbeTripsAfterThreshold(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.AddReadinessCheck("db", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool { return !h.IsReady() }, time.Second, 5*time.Millisecond)

	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestHealthyProbeStaysLive(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(1_000_000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)
	defer h.Stop()

	time.Sleep(20 * time.Millisecond)

	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
