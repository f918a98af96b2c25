package store

import (
	"gorm.io/gorm"

	"inboxwarm/models"
)

// MailLog is the append-only audit of every sent, received and replied
// message. Entries are never updated or deleted.
type MailLog struct {
	db *gorm.DB
}

func NewMailLog(db *gorm.DB) *MailLog {
	return &MailLog{db: db}
}

func (m *MailLog) Append(entry *models.MailLogEntry) error {
	return m.db.Create(entry).Error
}

// BySession returns a session's entries in chronological order.
func (m *MailLog) BySession(sessionID uint) ([]models.MailLogEntry, error) {
	var entries []models.MailLogEntry
	if err := m.db.
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *MailLog) ByMessageID(messageID string) (*models.MailLogEntry, error) {
	var entry models.MailLogEntry
	if err := m.db.Where("message_id = ?", messageID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Recent returns the newest entries first, up to limit.
func (m *MailLog) Recent(limit int) ([]models.MailLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []models.MailLogEntry
	if err := m.db.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
