// Package proxy is the gatelift orchestrator: it forwards caller
// requests to origin hosts, detects challenge pages on the way back,
// drives the solve/redeem pipeline, and caches the resulting session
// tokens per host.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gatelift/gatelift/pkg/challenge"
	"github.com/gatelift/gatelift/pkg/config"
	"github.com/gatelift/gatelift/pkg/history"
	"github.com/gatelift/gatelift/pkg/metrics"
	"github.com/gatelift/gatelift/pkg/tokencache"
)

// Server is the forwarding proxy.
type Server struct {
	cfg    *config.Config
	cache  *tokencache.Cache
	hist   history.Recorder
	met    *metrics.Metrics
	log    *slog.Logger
	client *http.Client
	group  singleflight.Group
	mux    *http.ServeMux

	limiters *limiterPool
}

// New creates a Server wired with all dependencies. hist may be nil.
func New(cfg *config.Config, cache *tokencache.Cache, hist history.Recorder, met *metrics.Metrics, log *slog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		cache: cache,
		hist:  hist,
		met:   met,
		log:   log,
		client: &http.Client{
			Timeout: cfg.Upstream.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redemption success is a 302 the proxy must see.
				return http.ErrUseLastResponse
			},
		},
		mux:      http.NewServeMux(),
		limiters: newLimiterPool(cfg.Upstream.HostRPS, cfg.Upstream.Burst),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/proxy/", s.handleProxy)
	if met != nil {
		s.mux.Handle("/metrics", met.Handler())
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the proxy with graceful shutdown and the cache
// purge janitor.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s,
	}

	if interval := s.cfg.Cache.PurgeInterval; interval > 0 {
		go s.janitor(ctx, interval)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gatelift proxy listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := s.cache.Purge(); dropped > 0 {
				s.log.Debug("purged expired tokens", "count", dropped)
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/proxy/")
	host, targetPath := rest, "/"
	if i := strings.Index(rest, "/"); i >= 0 {
		host, targetPath = rest[:i], rest[i:]
	}
	if host == "" {
		http.Error(w, "Usage: /proxy/<host>/<path>", http.StatusBadRequest)
		return
	}

	targetURL := fmt.Sprintf("%s://%s%s", s.cfg.Upstream.Scheme, host, targetPath)
	if q := r.URL.RawQuery; q != "" {
		targetURL += "?" + q
	}

	reqID := uuid.NewString()
	log := s.log.With("request_id", reqID, "host", host)
	log.Info("proxying", "url", targetURL)

	res, err := s.fetchThrough(r.Context(), host, targetURL, log)
	if err != nil {
		var unsupported *challenge.UnsupportedAlgorithmError
		switch {
		case errors.As(err, &unsupported):
			s.countRequest("unsupported_algorithm")
			http.Error(w, unsupported.Error(), http.StatusBadGateway)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.countRequest("timeout")
			http.Error(w, "upstream timed out", http.StatusGatewayTimeout)
		default:
			s.countRequest("error")
			log.Error("proxy error", "err", err)
			http.Error(w, fmt.Sprintf("proxy error: %v", err), http.StatusBadGateway)
		}
		return
	}

	relay(w, res)
}

// relay writes an upstream result to the caller, dropping hop-by-hop
// headers.
func relay(w http.ResponseWriter, res *upstreamResult) {
	for k, vals := range res.header {
		switch strings.ToLower(k) {
		case "transfer-encoding", "connection":
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(res.status)
	w.Write(res.body)
}

func (s *Server) countRequest(outcome string) {
	if s.met != nil {
		s.met.RequestsTotal.WithLabelValues(outcome).Inc()
	}
}
