package main

import (
	"transcendence/pong/internal/auth"
	"transcendence/pong/internal/gamehost"
)

// newWebsocketAuthenticator returns the player token check for the host, or nil when no
// secret is configured and sockets are trusted as-is.
func newWebsocketAuthenticator(secret string) (gamehost.Authenticator, error) {
	if secret == "" {
		return nil, nil
	}
	authenticator, err := auth.NewRequestAuthenticator(secret, auth.AudienceGameHost)
	if err != nil {
		return nil, err
	}
	return authenticator, nil
}
