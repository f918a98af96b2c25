package models

import (
	"gorm.io/gorm"
)

// Domain account operational status values
const (
	DomainStatusIdle    = "idle"
	DomainStatusRunning = "running"
	DomainStatusPaused  = "paused"
)

// Mailbox holds the credentials shared by domain and lead accounts.
// Passwords are encrypted in the application layer before they hit the DB.
type Mailbox struct {
	Name  string `gorm:"not null" json:"name"`
	Email string `gorm:"not null;uniqueIndex" json:"email"`

	// ========= SMTP Configuration =========
	SMTPHost     string `gorm:"not null" json:"smtp_host"`
	SMTPPort     int    `gorm:"not null" json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // Encrypted in application layer
	SMTPSecure   bool   `gorm:"default:true" json:"smtp_secure"`

	// ========= IMAP Configuration =========
	IMAPHost     string `gorm:"not null" json:"imap_host"`
	IMAPPort     int    `gorm:"default:993" json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"` // Encrypted in application layer
	IMAPSecure   bool   `gorm:"default:true" json:"imap_secure"`
}

// DomainAccount is the mailbox being warmed up. Status mirrors whether a
// live orchestrator currently owns the account.
type DomainAccount struct {
	gorm.Model
	Mailbox `gorm:"embedded"`

	Status string `gorm:"default:'idle'" json:"status"` // idle, running, paused
}

// LeadAccount is a cooperating responder mailbox. Leads are ordered by
// creation time ascending; a session's lead index points into that order.
type LeadAccount struct {
	gorm.Model
	Mailbox `gorm:"embedded"`
}

func (m *Mailbox) Sanitize() {
	m.SMTPPassword = ""
	m.IMAPPassword = ""
}
