// Package http carries middleware shared by the dvrsync HTTP
// surfaces.
package http

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/carverauto/dvrsync/pkg/logger"
)

// CommonMiddleware logs each request and applies CORS headers for the
// allowed origins. An entry of "*" allows any origin without
// credentials.
func CommonMiddleware(next http.Handler, allowedOrigins []string, log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug().
			Str("remote_addr", r.RemoteAddr).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Request")

		applyCORS(w, r, allowedOrigins)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func applyCORS(w http.ResponseWriter, r *http.Request, allowedOrigins []string) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := ""

	for _, candidate := range allowedOrigins {
		if candidate == "*" {
			allowed = "*"
			break
		}

		if candidate == origin {
			allowed = origin
			break
		}
	}

	if allowed == "" {
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", allowed)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")

	if allowed != "*" {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

// OriginAllowed reports whether a request origin may open a
// WebSocket. An empty origin (non-browser client) is always allowed.
func OriginAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, candidate := range allowedOrigins {
		if candidate == "*" || candidate == origin {
			return true
		}
	}

	return false
}

// BasicAuthMiddleware checks HTTP basic auth against a bcrypt hash of
// "user:password". An empty hash disables authentication.
func BasicAuthMiddleware(authHash string, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword([]byte(authHash), []byte(user+":"+pass)) != nil {
				log.Warn().
					Str("remote_addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("Unauthorized request")

				w.Header().Set("WWW-Authenticate", `Basic realm="dvrsync"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HashCredentials produces the bcrypt hash BasicAuthMiddleware
// expects for a user and password pair.
func HashCredentials(user, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(user+":"+password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}
