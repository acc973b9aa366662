package testutil

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"vicinity/pkg/requestcontext"
)

// WithRequestTime pins the request's logical clock, simulating what the
// request-time middleware would set. Tests use it to replay multi-day
// journeys without sleeping.
func WithRequestTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}

// WithRequestID stamps a request ID on the request context, as the request-ID
// middleware would for an inbound request.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}

// DiscardLogger returns a logger that drops everything. Handler and service
// constructors require a logger; tests rarely want its output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
