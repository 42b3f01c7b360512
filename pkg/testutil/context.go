package testutil

import (
	"net/http"
	"time"

	"sitestats/pkg/requestcontext"
)

// WithRequestTime pins the request's wall clock so version effective dates and
// summary stamps are deterministic in tests.
func WithRequestTime(req *http.Request, at time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), at))
}

// WithRequestID tags the request context the way the middleware would.
func WithRequestID(req *http.Request, id string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), id))
}
