package middleware

import "net/http"

// Headers sets Cache-Control and any extra headers on every response before
// the handler runs, so handlers can still override them.
func Headers(cacheControl string, extra map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if cacheControl != "" {
				h.Set("Cache-Control", cacheControl)
			}
			for k, v := range extra {
				h.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
