package api

import (
	"compress/gzip"
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/abstract-dao-go/pkg/errs"
	"github.com/Layr-Labs/abstract-dao-go/pkg/types"
)

type contextKey string

const requestIdKey contextKey = "request_id"

// RequestIdFromContext returns the correlation id assigned to the current request.
func RequestIdFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIdKey).(string)
	return id
}

// requestIdMiddleware keeps a caller supplied X-Request-Id or assigns a fresh one,
// and echoes it on the response.
func requestIdMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(types.HeaderRequestId)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(types.HeaderRequestId, id)
		h.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIdKey, id)))
	})
}

func rateLimitMiddleware(limiter *rate.Limiter, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, errs.New(errs.CodeRateLimited, "too many requests"))
			return
		}
		h.ServeHTTP(w, r)
	})
}

// gunzipRequestMiddleware transparently decompresses gzip encoded request bodies.
func gunzipRequestMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				writeError(w, errs.New(errs.CodeCantParseData, "invalid gzip body: %v", err))
				return
			}
			defer func() { _ = zr.Close() }()
			r.Body = zr
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}
		h.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware counts responses by route pattern and status, and logs every request.
func (s *Server) metricsMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, route := s.mux.Handler(r)
		if route == "" {
			route = "unmatched"
		}

		rec := &statusRecorder{ResponseWriter: w}
		h.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		s.metrics.HTTPRequest(route, strconv.Itoa(rec.status))
		s.logger.Sugar().Debugw("Handled HTTP request",
			"correlation_id", RequestIdFromContext(r.Context()),
			"route", route,
			"status", rec.status,
		)
	})
}
