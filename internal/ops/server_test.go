package ops

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lulubot/internal/metrics"
	logx "lulubot/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(b)
}

func TestHealthEndpoints(t *testing.T) {
	h := New(Config{}, nil, nil, logx.Nop()).Handler()
	for _, p := range []string{"/", "/health"} {
		code, body := get(t, h, p)
		assert.Equal(t, http.StatusOK, code, p)
		assert.Equal(t, "OK", body, p)
	}
	code, _ := get(t, h, "/status")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusAndMetrics(t *testing.T) {
	m := metrics.New()
	status := func(ctx context.Context) any {
		return map[string]any{"worker": map[string]bool{"running": true}}
	}
	h := New(Config{Metrics: true}, m, status, logx.Nop()).Handler()

	code, body := get(t, h, "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"worker":{"running":true}}`, body)

	m.IncEnqueued("url")
	code, body = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `lulubot_enqueued_total{source="url"} 1`)
	assert.Contains(t, body, "http_requests_total")
}

func TestPprofOnlyOnLoopback(t *testing.T) {
	h := New(Config{Addr: "127.0.0.1:0", Pprof: true}, nil, nil, logx.Nop()).Handler()
	code, _ := get(t, h, "/debug/pprof/")
	assert.Equal(t, http.StatusOK, code)

	h = New(Config{Addr: "0.0.0.0:8000", Pprof: true}, nil, nil, logx.Nop()).Handler()
	code, _ = get(t, h, "/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:8000"))
	assert.True(t, isLoopbackAddr("[::1]:8000"))
	assert.False(t, isLoopbackAddr(":8000"))
	assert.False(t, isLoopbackAddr("10.0.0.1:8000"))
}
