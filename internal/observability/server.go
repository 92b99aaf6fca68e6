// Package observability exposes Prometheus metrics, a liveness check and,
// optionally, pprof over one supervised HTTP listener.
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "checkinbot/internal/runtime/supervisor"
	logx "checkinbot/pkg/logx"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultAddr = "127.0.0.1:9464"

type Config struct {
	Enabled bool
	Addr    string
	// Pprof mounts /debug/pprof/. Only honoured on loopback addresses.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// HealthFunc reports nil while the process is healthy.
type HealthFunc func() error

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	health HealthFunc

	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, health HealthFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, health: health, log: log.With(logx.String("comp", "observability"))}
}

// Reconfigure applies cfg and starts, stops or restarts the listener as
// needed. Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev.Addr != cfg.Addr || prev.Pprof != cfg.Pprof ||
		prev.ReadTimeout != cfg.ReadTimeout || prev.WriteTimeout != cfg.WriteTimeout || prev.IdleTimeout != cfg.IdleTimeout:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv, sup := s.srv, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.srv, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
		s.log.Info("observability server stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Handler builds the mux served on the listener.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			if err := s.health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Pprof {
		if isLoopbackAddr(cfg.Addr) {
			mux.HandleFunc("/debug/pprof/", hpprof.Index)
			mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
			mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
			mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
			mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
		} else {
			s.log.Warn("pprof not mounted: addr is not loopback", logx.String("addr", cfg.Addr))
		}
	}
	return mux
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	if !cur.Enabled {
		return context.Canceled
	}
	if strings.TrimSpace(cur.Addr) == "" {
		cur.Addr = DefaultAddr
	}

	ln, err := net.Listen("tcp", cur.Addr)
	if err != nil {
		s.log.Error("listen failed", logx.String("addr", cur.Addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.Handler(cur),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cur.ReadTimeout,
		WriteTimeout:      cur.WriteTimeout,
		IdleTimeout:       cur.IdleTimeout,
	}
	defer func() { _ = srv.Close() }()

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("observability server started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cur.Pprof))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("observability server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
