package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusFunc reports the engine state served on /healthz.
type StatusFunc func(ctx context.Context) (any, error)

// NewRouter serves /metrics from gatherer and /healthz from status.
func NewRouter(gatherer prometheus.Gatherer, status StatusFunc) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthz(status)).Methods(http.MethodGet)
	return r
}

func healthz(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		body := map[string]any{"status": "ok"}
		code := http.StatusOK
		if status != nil {
			st, err := status(r.Context())
			if err != nil {
				code = http.StatusServiceUnavailable
				body["status"] = "error"
				body["error"] = err.Error()
			} else {
				body["engine"] = st
			}
		}

		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

type Server struct {
	srv *http.Server
	log zerolog.Logger
}

func NewServer(addr string, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log.With().Str("component", "metrics").Logger(),
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
