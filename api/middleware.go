package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/servicing"
)

// UserHeader carries the acting staff user's id. Authentication happens
// upstream; this service trusts the header.
const UserHeader = "X-User-ID"

// RequestLogger logs one line per request and records the HTTP metrics.
// The route label is the chi pattern ("/api/loans/{id}"), not the raw path,
// so ids do not blow up label cardinality.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)

			HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", elapsed),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			switch {
			case status >= 500:
				log.Error("request", fields...)
			case status >= 400:
				log.Warn("request", fields...)
			default:
				log.Debug("request", fields...)
			}
		})
	}
}

// =============================================================================
// ACTOR
// =============================================================================

type actorKey struct{}

// RequireActor resolves the X-User-ID header to a staff user and stores it
// in the request context. Unknown or missing ids get 401.
func (h *Handler) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(UserHeader)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header", nil)
			return
		}
		actor, err := h.svc.Actor(r.Context(), id)
		if err != nil {
			if servicing.IsNotFound(err) {
				writeError(w, http.StatusUnauthorized, "unknown user", nil)
				return
			}
			h.writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole refuses actors whose role is not listed. It must run after
// RequireActor.
func (h *Handler) RequireRole(roles ...servicing.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := actorFrom(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			h.writeServiceError(w, r, servicing.ErrForbidden)
		})
	}
}

func actorFrom(ctx context.Context) servicing.User {
	actor, _ := ctx.Value(actorKey{}).(servicing.User)
	return actor
}
