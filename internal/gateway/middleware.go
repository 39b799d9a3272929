package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type fieldsKey struct{}

type requestFields struct {
	mu     sync.Mutex
	fields map[string]any
}

// addField attaches a key/value to the request log line.
func addField(ctx context.Context, key string, value any) {
	fields, ok := ctx.Value(fieldsKey{}).(*requestFields)
	if !ok || fields == nil {
		return
	}
	fields.mu.Lock()
	defer fields.mu.Unlock()
	fields.fields[key] = value
}

func (f *requestFields) attrs() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, 0, len(f.fields)*2)
	for k, v := range f.fields {
		out = append(out, k, v)
	}
	return out
}

// requestLogger logs one line per request and converts panics into 500s.
func requestLogger(logger *slog.Logger, observe func(route string, code int)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = randomRequestID()
			}
			fields := &requestFields{fields: map[string]any{}}
			r = r.WithContext(context.WithValue(r.Context(), fieldsKey{}, fields))
			w.Header().Set("X-Request-ID", reqID)

			ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			func() {
				defer func() {
					if recovered := recover(); recovered != nil {
						ww.statusCode = http.StatusInternalServerError
						writeJSON(ww, http.StatusInternalServerError, errorBody("internal server error"))
						addField(r.Context(), "panic", recovered)
						addField(r.Context(), "stack", string(debug.Stack()))
					}
				}()
				next.ServeHTTP(ww, r)
			}()

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			if observe != nil {
				observe(route, ww.statusCode)
			}

			attrs := []any{
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", ww.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_size", ww.bytes,
			}
			attrs = append(attrs, fields.attrs()...)
			level := slog.LevelInfo
			if ww.statusCode >= 500 {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http_request", attrs...)
		})
	}
}

// rateLimited rejects requests beyond the limiter's budget with 429.
func rateLimited(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	if limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			addField(r.Context(), "rate_limited", true)
			writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func randomRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "req_unknown"
	}
	return "req_" + hex.EncodeToString(buf)
}
