package httpapi

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures the API handler.
type Option interface {
	apply(*Server)
}

type optionFunc func(*Server)

func (f optionFunc) apply(s *Server) { f(s) }

// WithMiddleware wraps the handler with middleware (auth, logging, etc.).
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(s *Server) {
		s.middleware = mw
	})
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return optionFunc(func(s *Server) {
		s.metrics = h
	})
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Server) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithRunTimeout sets the default and maximum duration of a pass started
// through the API. Default: 30 seconds.
func WithRunTimeout(d time.Duration) Option {
	return optionFunc(func(s *Server) {
		if d > 0 {
			s.runTimeout = d
		}
	})
}
