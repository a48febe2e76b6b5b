package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownIdentity pools every client whose address cannot be determined
// under one shared quota.
const UnknownIdentity = "unknown"

// Trusted proxy headers, in priority order.
const (
	HeaderRealIP       = "X-Real-IP"
	HeaderForwardedFor = "X-Forwarded-For"
)

// ClientIdentity resolves the rate-limit identity of r. The precedence is
// fixed: X-Real-IP, then the first hop of X-Forwarded-For, then the peer
// address, then UnknownIdentity. Later X-Forwarded-For hops are ignored
// because they can be forged by the client.
func ClientIdentity(r *http.Request) string {
	if r == nil {
		return UnknownIdentity
	}
	if v := strings.TrimSpace(r.Header.Get(HeaderRealIP)); v != "" {
		return v
	}
	if v := r.Header.Get(HeaderForwardedFor); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		return addr
	}
	return UnknownIdentity
}
