package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/trustedlocal/trustrewards/pkg/logger"
)

// WrapWithAuth guards the API with static bearer tokens. Health and metrics
// endpoints stay open. An empty token list disables authentication.
func WrapWithAuth(next http.Handler, tokens []string, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	valid := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			valid = append(valid, trimmed)
		}
	}
	if len(valid) == 0 {
		log.Warn("no API tokens configured; authentication disabled")
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="trustrewards"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		for _, token := range valid {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		log.WithField("path", r.URL.Path).Warn("rejected request with invalid token")
		w.WriteHeader(http.StatusUnauthorized)
	})
}
