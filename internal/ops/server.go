// Package ops serves liveness, status and metrics endpoints.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lulubot/internal/metrics"
	rtsup "lulubot/internal/runtime/supervisor"
	logx "lulubot/pkg/logx"
)

type Config struct {
	Addr    string
	Metrics bool
	// Pprof mounts /debug/pprof. Refused on non-loopback addresses.
	Pprof bool
}

// StatusFunc returns a JSON-encodable snapshot for /status.
type StatusFunc func(ctx context.Context) any

type Server struct {
	cfg     Config
	log     logx.Logger
	metrics *metrics.Metrics
	status  StatusFunc

	mu  sync.Mutex
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, m *metrics.Metrics, status StatusFunc, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, log: log.With(logx.String("comp", "ops")), metrics: m, status: status}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.HTTPMiddleware)
	}

	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	}
	r.Get("/", ok)
	r.Get("/health", ok)

	if s.status != nil {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel()
			w.Header().Set("Content-Type", "application/json")
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			_ = enc.Encode(s.status(ctx))
		})
	}
	if s.cfg.Metrics && s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.cfg.Pprof {
		if isLoopbackAddr(s.cfg.Addr) {
			r.Mount("/debug", middleware.Profiler())
		} else {
			s.log.Warn("pprof refused on non-loopback addr", logx.String("addr", s.cfg.Addr))
		}
	}
	return r
}

// Start listens and serves under a restart loop until ctx is done or Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))

	s.mu.Lock()
	s.srv, s.sup = srv, sup
	s.mu.Unlock()

	first := true
	sup.GoRestart("http.serve", func(c context.Context) error {
		l := ln
		if !first {
			var err error
			if l, err = net.Listen("tcp", s.cfg.Addr); err != nil {
				return err
			}
		}
		first = false
		err := srv.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	sup.Go0("http.shutdown_on_cancel", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})

	s.log.Info("ops server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down and waits for its goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	sup.Cancel()
	if werr := sup.Wait(ctx); werr != nil && err == nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
