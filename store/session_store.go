package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"inboxwarm/models"
)

// SessionStore is the durable record of per-mailbox warm-up progress and the
// single source of truth across restarts.
type SessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{db: db}
}

// SessionUpdate carries the optional fields of an UpdateStatus call. Nil
// fields are left untouched; the Clear flags null a field out, which the
// pointer fields cannot express.
type SessionUpdate struct {
	CurrentLeadIndex *int
	LastMessageID    *string
	ErrorMessage     *string
	CompletedAt      *time.Time
	ClearError       bool
	ClearCompletedAt bool
}

func (s *SessionStore) FindByID(id uint) (*models.WarmupSession, error) {
	var session models.WarmupSession
	if err := s.db.First(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActiveToday returns today's non-terminal session for the domain
// account, or nil when none exists.
func (s *SessionStore) FindActiveToday(domainAccountID uint) (*models.WarmupSession, error) {
	var session models.WarmupSession
	err := s.db.
		Where("domain_account_id = ? AND session_date = ? AND status NOT IN ?",
			domainAccountID, models.Today(),
			[]string{models.SessionCompleted, models.SessionFailed}).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindCompletedToday returns today's completed session for the domain
// account, or nil when none exists.
func (s *SessionStore) FindCompletedToday(domainAccountID uint) (*models.WarmupSession, error) {
	var session models.WarmupSession
	err := s.db.
		Where("domain_account_id = ? AND session_date = ? AND status = ?",
			domainAccountID, models.Today(), models.SessionCompleted).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateOrReset inserts today's session row for the domain account, or resets
// an existing one to a fresh pending state. The whole operation is a single
// upsert on the (domain_account_id, session_date) uniqueness key, not a
// read-then-write.
func (s *SessionStore) CreateOrReset(domainAccountID uint) (*models.WarmupSession, error) {
	now := time.Now()
	session := models.WarmupSession{
		DomainAccountID:  domainAccountID,
		SessionDate:      models.Today(),
		Status:           models.SessionPending,
		CurrentLeadIndex: 0,
		StartedAt:        &now,
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain_account_id"}, {Name: "session_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":             models.SessionPending,
			"current_lead_index": 0,
			"last_message_id":    "",
			"error_message":      nil,
			"completed_at":       nil,
			"started_at":         now,
			"updated_at":         now,
		}),
	}).Create(&session).Error
	if err != nil {
		return nil, err
	}

	// Re-read: on conflict the insert does not report the surviving row's id.
	var stored models.WarmupSession
	if err := s.db.
		Where("domain_account_id = ? AND session_date = ?", domainAccountID, session.SessionDate).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

// UpdateStatus atomically moves the session to a new status, applying the
// optional fields in the same write. The refreshed row is returned; on a
// failed write the stored row is returned unchanged alongside the error so
// callers can treat a racing update as already advanced.
func (s *SessionStore) UpdateStatus(id uint, status string, update *SessionUpdate) (*models.WarmupSession, error) {
	values := map[string]interface{}{"status": status}
	if update != nil {
		if update.CurrentLeadIndex != nil {
			values["current_lead_index"] = *update.CurrentLeadIndex
		}
		if update.LastMessageID != nil {
			values["last_message_id"] = *update.LastMessageID
		}
		if update.ErrorMessage != nil {
			values["error_message"] = *update.ErrorMessage
		}
		if update.CompletedAt != nil {
			values["completed_at"] = *update.CompletedAt
		}
		if update.ClearError {
			values["error_message"] = nil
		}
		if update.ClearCompletedAt {
			values["completed_at"] = nil
		}
	}

	if err := s.db.Model(&models.WarmupSession{}).Where("id = ?", id).Updates(values).Error; err != nil {
		if stored, ferr := s.FindByID(id); ferr == nil {
			return stored, err
		}
		return nil, err
	}

	return s.FindByID(id)
}

// ListSessions returns sessions newest first, optionally scoped to one
// domain account.
func (s *SessionStore) ListSessions(domainAccountID uint) ([]models.WarmupSession, error) {
	query := s.db.Order("session_date DESC, id DESC")
	if domainAccountID != 0 {
		query = query.Where("domain_account_id = ?", domainAccountID)
	}

	var sessions []models.WarmupSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
