package networking

import (
	"net/http/httptest"
	"testing"
)

func TestOriginCheckerMatchesCaseAndTrailingSlash(t *testing.T) {
	check := OriginChecker([]string{"https://Pong.example/"})

	cases := map[string]bool{
		"https://pong.example":  true,
		"https://pong.example/": true,
		"https://evil.example":  false,
		"":                      true,
	}
	for origin, want := range cases {
		req := httptest.NewRequest("GET", "/ws", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		if got := check(req); got != want {
			t.Fatalf("origin %q: expected %v, got %v", origin, want, got)
		}
	}
}

func TestOriginCheckerAllowsAnyWhenUnconfigured(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://anything.example")
	if !OriginChecker(nil)(req) {
		t.Fatalf("expected every origin to pass without a list")
	}
}
