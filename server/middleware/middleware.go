package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/teilomillet/promptscore/config"
)

// CORS handles Cross-Origin Resource Sharing for the configured origins.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader, "X-Model", "X-Input-Tokens", "X-Output-Tokens", "X-Total-Tokens", "X-Cache"},
		AllowCredentials: cfg.AllowCredentials,
	}).Handler
}

// Deadline bounds the request context by d. Handlers observe it through
// ctx.Done; nothing is written on expiry. A zero d leaves the context alone.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
