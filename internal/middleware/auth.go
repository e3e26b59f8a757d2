package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// BasicAuth guards every route with a single username/password pair. The
// planner serves one person, so there are no accounts or sessions. /health
// stays open for uptime probes. Failed attempts count against the throttle
// per client IP to slow password guessing; requests with valid credentials
// never count. A nil throttle disables throttling.
func BasicAuth(username, password string, throttle *Throttle) func(http.Handler) http.Handler {
	wantUser := sha256.Sum256([]byte(username))
	wantPass := sha256.Sum256([]byte(password))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if ok {
				// Hash before comparing so the comparison is constant-time
				// even when lengths differ.
				gotUser := sha256.Sum256([]byte(user))
				gotPass := sha256.Sum256([]byte(pass))
				userMatch := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
				passMatch := subtle.ConstantTimeCompare(gotPass[:], wantPass[:]) == 1
				if userMatch && passMatch {
					next.ServeHTTP(w, r)
					return
				}
			}

			if throttle != nil && !throttle.Allow(RealIP(r)) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("WWW-Authenticate", `Basic realm="yotei", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}
