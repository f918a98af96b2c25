package models

import "gorm.io/gorm"

// Mail log directions. "sent" is an outbound from the domain account,
// "received" is anything observed on a watched mailbox, "replied" is an
// outbound from a lead back to the domain.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
	DirectionReplied  = "replied"
)

// MailLogEntry is the append-only audit record of every message the
// orchestrator sends, observes or replies with. Entries are never updated.
type MailLogEntry struct {
	gorm.Model
	SessionID *uint `gorm:"index" json:"session_id"`

	FromAddress string `gorm:"not null" json:"from_address"`
	ToAddress   string `gorm:"not null" json:"to_address"`
	Subject     string `json:"subject"`
	Body        string `gorm:"type:text" json:"body"`

	MessageID string `gorm:"index" json:"message_id"`
	InReplyTo string `json:"in_reply_to"`

	Direction string `gorm:"not null" json:"direction"` // sent, received, replied
	LeadIndex int    `json:"lead_index"`
}
