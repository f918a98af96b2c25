package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inboxwarm/config"
	"inboxwarm/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))
	return db
}

func TestCreateOrResetCreatesFreshSession(t *testing.T) {
	db := newTestDB(t)
	s := NewSessionStore(db)

	session, err := s.CreateOrReset(1)
	require.NoError(t, err)

	assert.Equal(t, uint(1), session.DomainAccountID)
	assert.Equal(t, models.Today(), session.SessionDate)
	assert.Equal(t, models.SessionPending, session.Status)
	assert.Equal(t, 0, session.CurrentLeadIndex)
	assert.NotNil(t, session.StartedAt)
	assert.Nil(t, session.CompletedAt)
}

func TestCreateOrResetReusesDailyRow(t *testing.T) {
	db := newTestDB(t)
	s := NewSessionStore(db)

	first, err := s.CreateOrReset(1)
	require.NoError(t, err)

	// Advance and fail the run, then start over
	msg := "smtp connect refused"
	_, err = s.UpdateStatus(first.ID, models.SessionFailed, &SessionUpdate{
		CurrentLeadIndex: intPtr(3),
		ErrorMessage:     &msg,
	})
	require.NoError(t, err)

	second, err := s.CreateOrReset(1)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same calendar day must reuse the row")
	assert.Equal(t, models.SessionPending, second.Status)
	assert.Equal(t, 0, second.CurrentLeadIndex)
	assert.Nil(t, second.ErrorMessage)
	assert.Nil(t, second.CompletedAt)

	var count int64
	require.NoError(t, db.Model(&models.WarmupSession{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrResetSeparatesDomains(t *testing.T) {
	db := newTestDB(t)
	s := NewSessionStore(db)

	a, err := s.CreateOrReset(1)
	require.NoError(t, err)
	b, err := s.CreateOrReset(2)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestUpdateStatusAppliesFields(t *testing.T) {
	db := newTestDB(t)
	s := NewSessionStore(db)

	session, err := s.CreateOrReset(1)
	require.NoError(t, err)

	mid := "<abc@warm.example>"
	updated, err := s.UpdateStatus(session.ID, models.SessionWaitingReply, &SessionUpdate{
		LastMessageID: &mid,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionWaitingReply, updated.Status)
	assert.Equal(t, mid, updated.LastMessageID)

	now := time.Now()
	updated, err = s.UpdateStatus(session.ID, models.SessionCompleted, &SessionUpdate{
		CurrentLeadIndex: intPtr(2),
		CompletedAt:      &now,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, updated.Status)
	assert.Equal(t, 2, updated.CurrentLeadIndex)
	require.NotNil(t, updated.CompletedAt)
	assert.True(t, updated.Terminal())
}

func TestUpdateStatusClearFlags(t *testing.T) {
	db := newTestDB(t)
	s := NewSessionStore(db)

	session, err := s.CreateOrReset(1)
	require.NoError(t, err)

	now := time.Now()
	msg := "boom"
	_, err = s.UpdateStatus(session.ID, models.SessionCompleted, &SessionUpdate{
		ErrorMessage: &msg,
		CompletedAt:  &now,
	})
	require.NoError(t, err)

	reopened, err := s.UpdateStatus(session.ID, models.SessionSending, &SessionUpdate{
		ClearError:       true,
		ClearCompletedAt: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionSending, reopened.Status)
	assert.Nil(t, reopened.ErrorMessage)
	assert.Nil(t, reopened.CompletedAt)
}

func TestFindActiveAndCompletedToday(t *testing.T) {
	db := newTestDB(t)
	s := NewSessionStore(db)

	active, err := s.FindActiveToday(1)
	require.NoError(t, err)
	assert.Nil(t, active)

	session, err := s.CreateOrReset(1)
	require.NoError(t, err)

	active, err = s.FindActiveToday(1)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)

	completed, err := s.FindCompletedToday(1)
	require.NoError(t, err)
	assert.Nil(t, completed)

	now := time.Now()
	_, err = s.UpdateStatus(session.ID, models.SessionCompleted, &SessionUpdate{CompletedAt: &now})
	require.NoError(t, err)

	active, err = s.FindActiveToday(1)
	require.NoError(t, err)
	assert.Nil(t, active, "completed sessions are terminal")

	completed, err = s.FindCompletedToday(1)
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, session.ID, completed.ID)
}

func TestListSessions(t *testing.T) {
	db := newTestDB(t)
	s := NewSessionStore(db)

	_, err := s.CreateOrReset(1)
	require.NoError(t, err)
	_, err = s.CreateOrReset(2)
	require.NoError(t, err)

	all, err := s.ListSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := s.ListSessions(2)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, uint(2), scoped[0].DomainAccountID)
}

func intPtr(i int) *int { return &i }
