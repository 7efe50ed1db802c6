package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/smbtran/pkg/transport"
)

type nopTransportMetrics struct{}

func (nopTransportMetrics) RecordStateChange(transport.Family, transport.State, transport.State) {}
func (nopTransportMetrics) RecordFrame(transport.Family, string, int)                          {}
func (nopTransportMetrics) ObserveOperation(transport.Family, string, time.Duration, transport.Code) {
}
func (nopTransportMetrics) RecordFatal(transport.Family, transport.Code) {}

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegistry(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.False(t, IsEnabled())
	assert.Nil(t, GetRegistry())

	reg := InitRegistry()
	require.NotNil(t, reg)
	assert.True(t, IsEnabled())
	assert.Same(t, reg, GetRegistry())
	assert.Same(t, reg, InitRegistry(), "second init reuses the registry")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "runtime collectors are registered")
}

func TestConstructorsDisabled(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	assert.Nil(t, NewTransportMetrics())
	assert.Nil(t, NewResponderMetrics())
	assert.Nil(t, NewSessionMetrics())
}

func TestConstructorIndirection(t *testing.T) {
	Reset()
	prev := newPrometheusTransportMetrics
	t.Cleanup(func() {
		Reset()
		newPrometheusTransportMetrics = prev
	})

	InitRegistry()
	newPrometheusTransportMetrics = nil
	assert.Nil(t, NewTransportMetrics(), "no implementation linked")

	RegisterTransportMetricsConstructor(func() transport.Metrics { return nopTransportMetrics{} })
	assert.Equal(t, nopTransportMetrics{}, NewTransportMetrics())
}

// ============================================================================
// Server Tests
// ============================================================================

func TestServerHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "smbtran_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	t.Run("Metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewServer(":0", reg, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "smbtran_test_total 3")
	})

	t.Run("Healthy", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewServer(":0", reg, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body healthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ok", body.Status)
	})

	t.Run("Unhealthy", func(t *testing.T) {
		health := func(context.Context) error { return errors.New("responder stopped") }
		rec := httptest.NewRecorder()
		NewServer(":0", reg, health).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body healthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "responder stopped", body.Error)
	})

	t.Run("NoRegistry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewServer(":0", nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServerServe(t *testing.T) {
	s := NewServer("127.0.0.1:0", prometheus.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		t.Fatalf("serve failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("metrics server not ready")
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("metrics server did not shut down")
	}
}
