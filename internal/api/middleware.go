package api

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"
)

type ctxKey int

const actorKey ctxKey = iota

// anonymousActor is recorded when no API keys are configured
const anonymousActor = "api"

// actorFrom returns the name of the API key that authenticated the request
func actorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey).(string); ok && actor != "" {
		return actor
	}
	return anonymousActor
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware checks the key from "Authorization: Bearer" or X-API-Key
// against the configured bcrypt hashes
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.config.Keys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-API-Key")
		if auth := r.Header.Get("Authorization"); auth != "" {
			token = strings.TrimPrefix(auth, "Bearer ")
		}

		name, ok := s.authenticate(token)
		if !ok {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, name)))
	})
}

func (s *Server) authenticate(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	digest := sha256.Sum256([]byte(token))
	if name, ok := s.verified.Load(digest); ok {
		return name.(string), true
	}

	for _, k := range s.config.Keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(token)) == nil {
			s.verified.Store(digest, k.Name)
			return k.Name, true
		}
	}
	return "", false
}
