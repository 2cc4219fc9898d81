// Package impersonation manages admin-as-user sessions. A session is the
// audit anchor for everything an admin does while acting as a user: every
// audited action performed during an active session carries its id.
package impersonation

import (
	"time"

	id "warden/pkg/domain"
)

// SessionTTL is the fixed window after which a session passively expires.
const SessionTTL = 4 * time.Hour

// Status is the observable state of a session. There is no separate expired
// status: a read past the deadline reports ended whether or not End was
// called.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is one admin-as-user window.
type Session struct {
	ID           id.SessionID
	AdminID      id.AdminID
	TargetUserID id.UserID
	Reason       string
	StartedAt    time.Time
	ExpiresAt    time.Time
	Status       Status
	EndedAt      *time.Time
}

// IsExpiredAt reports whether the passive deadline has passed.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// normalizedAt returns the session as a reader at now should see it: an
// active session past its deadline is presented as ended at the deadline.
func (s *Session) normalizedAt(now time.Time) *Session {
	if s.Status != StatusActive || !s.IsExpiredAt(now) {
		return s
	}
	ended := *s
	ended.Status = StatusEnded
	endedAt := s.ExpiresAt
	ended.EndedAt = &endedAt
	return &ended
}
