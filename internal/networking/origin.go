package networking

import (
	"net/http"
	"strings"
)

// OriginChecker accepts upgrades from the listed origins. An empty list or a request without
// an Origin header is accepted.
func OriginChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[normaliseOrigin(origin)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[normaliseOrigin(origin)]
		return ok
	}
}

func normaliseOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
