package models

import (
	"time"

	"gorm.io/gorm"
)

// Warm-up session status values. Transitions are constrained to the
// orchestrator's state machine; completed and failed are terminal.
const (
	SessionPending      = "pending"
	SessionSending      = "sending"
	SessionWaitingReply = "waiting_reply"
	SessionPaused       = "paused"
	SessionCompleted    = "completed"
	SessionFailed       = "failed"
)

// WarmupSession is one calendar day of warm-up progress for one domain
// account. (domain_account_id, session_date) is unique: restarting the same
// day reuses the row.
type WarmupSession struct {
	gorm.Model
	DomainAccountID uint   `gorm:"not null;index;uniqueIndex:idx_sessions_domain_date" json:"domain_account_id"`
	SessionDate     string `gorm:"not null;uniqueIndex:idx_sessions_domain_date" json:"session_date"` // YYYY-MM-DD, server time zone

	// Next lead to send to, or the lead in progress while waiting_reply.
	// Monotonic non-decreasing within a session.
	CurrentLeadIndex int    `gorm:"default:0" json:"current_lead_index"`
	Status           string `gorm:"default:'pending'" json:"status"`
	LastMessageID    string `json:"last_message_id"`

	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage *string    `json:"error_message"`
}

// Terminal reports whether the session can make no further progress.
func (s *WarmupSession) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}

// SessionDateFormat is the layout for WarmupSession.SessionDate.
const SessionDateFormat = "2006-01-02"

// Today returns the current calendar day in the server's time zone, in the
// session-date layout.
func Today() string {
	return time.Now().Format(SessionDateFormat)
}
