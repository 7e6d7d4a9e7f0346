package models

import "time"

// Session is an authenticated login. ExpiresAt is fixed at creation and is
// never extended by activity. IP and UserAgent are kept for audit only.
type Session struct {
	ID        int64
	OwnerID   int64
	Token     string
	CSRFToken string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the session is usable at now.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// TransportSession is the anonymous, pre-login browser session that carries
// the CSRF token for forms rendered before authentication.
type TransportSession struct {
	Handle     string
	CSRFToken  string
	CreatedAt  time.Time
	LastUsedAt time.Time
}
