package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"checkinbot/internal/transport"
	"checkinbot/internal/transport/transporttest"
	logx "checkinbot/pkg/logx"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	var unhealthy error
	s := New(Config{}, func() error { return unhealthy }, logx.Nop())

	tests := []struct {
		name   string
		cfg    Config
		path   string
		status int
	}{
		{"metrics", Config{Addr: DefaultAddr}, "/metrics", http.StatusOK},
		{"healthz", Config{Addr: DefaultAddr}, "/healthz", http.StatusOK},
		{"pprof off", Config{Addr: DefaultAddr}, "/debug/pprof/", http.StatusNotFound},
		{"pprof loopback", Config{Addr: DefaultAddr, Pprof: true}, "/debug/pprof/", http.StatusOK},
		{"pprof public", Config{Addr: "0.0.0.0:9464", Pprof: true}, "/debug/pprof/", http.StatusNotFound},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		s.Handler(tc.cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s: GET %s = %d, want %d", tc.name, tc.path, rec.Code, tc.status)
		}
	}

	unhealthy = errors.New("no sweep for 5m")
	rec := httptest.NewRecorder()
	s.Handler(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "no sweep") {
		t.Fatalf("unhealthy /healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestInstrumentCounts(t *testing.T) {
	t.Parallel()
	fake := transporttest.New()
	m := Instrument(fake)
	before := testutil.ToFloat64(Outbound.WithLabelValues("edit", transport.NotFound.String()))

	r := m.Edit(context.Background(), transport.MessageRef{ChatID: 1, MessageID: 42}, "x", nil)
	if r.Outcome != transport.NotFound {
		t.Fatalf("Edit outcome = %s, want not found", r.Outcome)
	}
	after := testutil.ToFloat64(Outbound.WithLabelValues("edit", transport.NotFound.String()))
	if after-before != 1 {
		t.Fatalf("counter delta = %v, want 1", after-before)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:80":   true,
		"[::1]:9464":     true,
		":9464":          false,
		"0.0.0.0:9464":   false,
		"nonsense":       false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
