package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestAuthenticatorResolvesSubject(t *testing.T) {
	authenticator, err := NewRequestAuthenticator("secret", AudienceMatchmaker)
	if err != nil {
		t.Fatalf("NewRequestAuthenticator: %v", err)
	}
	token, err := authenticator.Verifier().Issue("7", AudienceMatchmaker, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]func() string{
		"query": func() string {
			req := httptest.NewRequest("GET", "/ws?auth_token="+token, nil)
			subject, _ := authenticator.Authenticate(req)
			return subject
		},
		"header": func() string {
			req := httptest.NewRequest("GET", "/ws", nil)
			req.Header.Set("X-Auth-Token", token)
			subject, _ := authenticator.Authenticate(req)
			return subject
		},
		"bearer": func() string {
			req := httptest.NewRequest("GET", "/ws", nil)
			req.Header.Set("Authorization", "bearer "+token)
			subject, _ := authenticator.Authenticate(req)
			return subject
		},
	}
	for name, run := range cases {
		if got := run(); got != "7" {
			t.Fatalf("%s: expected subject 7, got %q", name, got)
		}
	}
}

func TestRequestAuthenticatorAnonymousAndWrongAudience(t *testing.T) {
	authenticator, err := NewRequestAuthenticator("secret", AudienceGameHost)
	if err != nil {
		t.Fatalf("NewRequestAuthenticator: %v", err)
	}
	subject, err := authenticator.Authenticate(httptest.NewRequest("GET", "/", nil))
	if err != nil || subject != "" {
		t.Fatalf("expected anonymous request, got %q %v", subject, err)
	}

	token, err := authenticator.Verifier().Issue("7", AudienceMatchmaker, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := httptest.NewRequest("GET", "/?auth_token="+token, nil)
	if _, err := authenticator.Authenticate(req); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	req = httptest.NewRequest("GET", "/?auth_token=garbage", nil)
	if _, err := authenticator.Authenticate(req); err == nil {
		t.Fatal("expected malformed token to fail")
	}
}

func TestNewRequestAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewRequestAuthenticator("  ", ""); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
}
