package gamehost

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// IPLimiter caps concurrent sockets per remote address.
type IPLimiter struct {
	mu       sync.Mutex
	max      int
	counts   map[string]int
	rejected uint64
}

// NewIPLimiter constructs a limiter; max <= 0 disables it.
func NewIPLimiter(max int) *IPLimiter {
	return &IPLimiter{max: max, counts: make(map[string]int)}
}

// Acquire reserves a slot for ip and reports whether it was granted.
func (l *IPLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max > 0 && l.counts[ip] >= l.max {
		l.rejected++
		return false
	}
	l.counts[ip]++
	return true
}

// Release frees a slot previously granted to ip.
func (l *IPLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[ip] <= 1 {
		delete(l.counts, ip)
		return
	}
	l.counts[ip]--
}

// Active returns the number of sockets held by ip.
func (l *IPLimiter) Active(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[ip]
}

// Rejected returns how many connections were refused.
func (l *IPLimiter) Rejected() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}

// remoteIP extracts the client address, honouring the first X-Forwarded-For hop.
func remoteIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if first, _, _ := strings.Cut(forwarded, ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
