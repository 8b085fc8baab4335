package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/yieldboard/pkg/metrics"
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics. Failed
// requests are also counted by the error code written in the response body.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		statusCodeStr := strconv.Itoa(wrapped.statusCode)

		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)

		if wrapped.statusCode >= http.StatusBadRequest {
			metrics.RecordErrorByComponent("http", wrapped.errorType())
		}
	}
}

// responseWriter captures the status code and the error code of a response.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	errorCode  string
}

// errorCoder is implemented by writers that want the code of an error response.
type errorCoder interface {
	setErrorCode(code string)
}

func (rw *responseWriter) setErrorCode(code string) { rw.errorCode = code }

// errorType prefers the error code; responses written without one fall back
// to a status class.
func (rw *responseWriter) errorType() string {
	switch {
	case rw.errorCode != "":
		return rw.errorCode
	case rw.statusCode >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "client_error"
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}
