package security

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"
)

// CORS admits browser calls from the storefront origins. With no origins, or
// a "*" entry, any origin is allowed without credentials.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Total-Count", "X-Request-ID", "Retry-After", "X-RateLimit-Remaining"},
		AllowCredentials: !slices.Contains(allowed, "*"),
		MaxAge:           300,
	})
}
