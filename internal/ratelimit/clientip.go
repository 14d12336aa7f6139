package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ByClientIP keys requests by client IP under prefix.
func ByClientIP(prefix string) func(*http.Request) string {
	return func(r *http.Request) string {
		ip := clientIP(r)
		if ip == "" {
			return ""
		}
		return prefix + ip
	}
}

// clientIP prefers the first well-formed X-Forwarded-For hop, then
// X-Real-IP, then the socket peer. Malformed header values are skipped so a
// client cannot mint a fresh bucket per request with junk strings.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); first != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap().String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(host)); err == nil {
		return addr.Unmap().String()
	}
	return strings.TrimSpace(host)
}
