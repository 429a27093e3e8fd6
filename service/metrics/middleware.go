package metrics

import (
	"net/http"
	"time"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// HTTPMetricsTransport wraps an outbound transport and records one response
// per request under routeName. The route should be a constant identifier such
// as "/transactions/by_hash", never the raw path. Transport errors are
// recorded with status code 0.
func HTTPMetricsTransport(m *Metrics, routeName func(*http.Request) string) func(http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		if next == nil {
			next = http.DefaultTransport
		}
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			resp, err := next.RoundTrip(r)
			if m != nil {
				code := 0
				if resp != nil {
					code = resp.StatusCode
				}
				m.RecordRESTResponse(routeName(r), r.Method, code)
			}
			return resp, err
		})
	}
}

// HTTPMiddleware records one request metric per call, labelled by
// handlerName. The name must be a route pattern, not the raw path.
func (m *Metrics) HTTPMiddleware(handlerName func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if m != nil {
			m.RecordHTTPRequest(handlerName(r), r.Method, wrapped.statusCode, time.Since(start).Seconds())
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and calls the underlying WriteHeader.
func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps streaming responses working through the wrapper.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Timer is a helper for timing operations.
// Usage:
//
//	defer Timer(time.Now(), func(duration float64) {
//	    metrics.RecordSomething(duration)
//	})()
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
