package observability

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware wraps a handler with a server span and RED metrics for
// every request. Responses with a 5xx status count as errors.
func (p *Provider) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		}

		ctx, done := p.TrackOperation(r.Context(), r.Method+" "+r.URL.Path, attrs...)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		if rec.status >= 500 {
			done(fmt.Errorf("http %d", rec.status))
		} else {
			done(nil)
		}
	})
}
