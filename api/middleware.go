package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/lab-booking/engine"
)

// Caller identity headers. They are trusted as-is.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type contextKey string

const actorKey contextKey = "actor"

var anonymous = engine.Actor{ID: "anonymous", Role: engine.RoleUser}

// RequestLogging logs the start and completion of every request.
func RequestLogging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			log.Debug("HTTP request started",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			next.ServeHTTP(wrapped, r)

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("HTTP request completed",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// ContentTypeValidation rejects POST/PUT bodies that are not JSON.
func ContentTypeValidation(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiresContentType(r.Method) {
				contentType := extractContentType(r.Header.Get("Content-Type"))
				if contentType != "application/json" {
					log.Warn("Invalid Content-Type header",
						"request_id", middleware.GetReqID(r.Context()),
						"content_type", contentType,
						"path", r.URL.Path,
						"method", r.Method,
					)
					writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requiresContentType(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

func extractContentType(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ";")
	return strings.TrimSpace(parts[0])
}

// Actors resolves the caller from the identity headers. Missing headers
// yield an anonymous user; an unknown role is rejected.
func Actors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := anonymous
		if id := strings.TrimSpace(r.Header.Get(HeaderActorID)); id != "" {
			actor.ID = id
		}
		if role := strings.TrimSpace(r.Header.Get(HeaderActorRole)); role != "" {
			switch engine.Role(strings.ToLower(role)) {
			case engine.RoleAdmin, engine.RoleWorker, engine.RoleUser:
				actor.Role = engine.Role(strings.ToLower(role))
			default:
				writeError(w, http.StatusBadRequest, "Unknown actor role", nil)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

// ActorFrom returns the caller stored by Actors.
func ActorFrom(ctx context.Context) engine.Actor {
	if a, ok := ctx.Value(actorKey).(engine.Actor); ok {
		return a
	}
	return anonymous
}
