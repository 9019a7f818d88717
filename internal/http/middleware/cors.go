package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// corsHandler reflects any request origin with credentials allowed
var corsHandler = cors.Handler(cors.Options{
	AllowOriginFunc:  func(_ *http.Request, _ string) bool { return true },
	AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	AllowedHeaders:   []string{"*"},
	AllowCredentials: true,
	MaxAge:           3600,
	// preflights fall through so they can be answered with 204 below
	OptionsPassthrough: true,
})

// CORS allows any origin with credentials and answers preflight requests
// with 204.
func CORS(next http.Handler) http.Handler {
	return corsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
