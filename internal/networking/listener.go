package networking

import (
	"fmt"
	"net"
	"strings"
)

// ListenerURLs returns the HTTP and WebSocket URLs a listener on address is reachable at.
func ListenerURLs(address string, tlsEnabled bool) (httpURL, wsURL string) {
	//1.- TLS listeners advertise the secure schemes for both protocols.
	httpScheme, wsScheme := "http", "ws"
	if tlsEnabled {
		httpScheme, wsScheme = "https", "wss"
	}
	//2.- Wildcard hosts are shown as localhost so the URL stays clickable.
	hostPort := normaliseHostPort(address)
	return fmt.Sprintf("%s://%s", httpScheme, hostPort), fmt.Sprintf("%s://%s", wsScheme, hostPort)
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
