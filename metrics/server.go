// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler serving this package's Registry in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Server wraps an http.Server exposing /metrics, started/stopped
// explicitly by the Runtime rather than via a package-level global.
type Server struct {
	srv *http.Server
}

// NewServer builds (but does not start) a metrics HTTP server at addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server until ctx is canceled or ListenAndServe fails.
// Errors from a normal shutdown (http.ErrServerClosed) are swallowed.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.srv.Shutdown(context.Background())
	}()
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
