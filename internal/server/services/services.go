// Package services contains the server-side auth core: credential checks,
// rate limiting, one-time codes, sessions, the audit sink and the flows
// that combine them. Every service takes its storage handle and the
// repository manager explicitly.
package services

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Limit is a failed-attempt threshold over a trailing window.
type Limit struct {
	MaxAttempts int
	Window      time.Duration
}

// Enabled reports whether the limit is enforced at all.
func (l Limit) Enabled() bool {
	return l.MaxAttempts > 0 && l.Window > 0
}

// ClientInfo is recorded with sessions and audit entries. It is never used
// for enforcement except for the optional per-IP login limit.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// ClientFromRequest extracts the peer address and user agent from r.
func ClientFromRequest(r *http.Request) ClientInfo {
	if r == nil {
		return ClientInfo{}
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return ClientInfo{IP: strings.TrimSpace(ip), UserAgent: r.UserAgent()}
}
