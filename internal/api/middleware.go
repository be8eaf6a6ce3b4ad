package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Caller identity headers set by the upstream auth layer.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// Caller is the verified identity of a request.
type Caller struct {
	UserID string
	Role   string
}

type callerKey struct{}

// CallerFrom returns the identity attached to ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok && c.UserID != ""
}

func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := Caller{UserID: r.Header.Get(headerUserID), Role: r.Header.Get(headerUserRole)}
		if c.UserID != "" {
			r = r.WithContext(context.WithValue(r.Context(), callerKey{}, c))
		}
		next.ServeHTTP(w, r)
	})
}

func requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing caller identity"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// throttleKey identifies the caller for the scrape rate limiter: the user
// when known, else the client address.
func throttleKey(r *http.Request) string {
	if c, ok := CallerFrom(r.Context()); ok {
		return "user:" + c.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
