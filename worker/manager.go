package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inboxwarm/config"
	"inboxwarm/models"
	"inboxwarm/store"
	"inboxwarm/utils"
)

// Control-surface errors. Controllers map these onto HTTP statuses.
var (
	ErrDomainNotFound = errors.New("domain account not found")
	ErrNoLeads        = errors.New("no lead accounts configured")
	ErrAlreadyRunning = errors.New("warmup already running for this domain account")
	ErrCompletedToday = errors.New("warmup already completed for today")
	ErrSessionActive  = errors.New("warmup session already exists")
	ErrNotRunning     = errors.New("warmup is not running for this domain account")
)

// StopReason is the error message recorded on a manually stopped session.
const StopReason = "Manually stopped by user"

// Manager owns the registry of live orchestrators, at most one per domain
// account, and every start/pause/stop/status decision.
type Manager struct {
	db       *gorm.DB
	sessions *store.SessionStore
	mailLog  *store.MailLog
	sender   Sender
	listener Listener
	texter   utils.TextGenerator
	opts     Options
	logger   *logrus.Entry

	mu      sync.Mutex
	running map[uint]*Orchestrator
}

func NewManager(db *gorm.DB, sender Sender, listener Listener, texter utils.TextGenerator, opts Options) *Manager {
	return &Manager{
		db:       db,
		sessions: store.NewSessionStore(db),
		mailLog:  store.NewMailLog(db),
		sender:   sender,
		listener: listener,
		texter:   texter,
		opts:     opts,
		logger:   logrus.WithField("component", "warmup-manager"),
		running:  make(map[uint]*Orchestrator),
	}
}

// OptionsFromConfig converts the millisecond pacing knobs into durations.
func OptionsFromConfig(wc config.WarmupConfig) Options {
	return Options{
		MinDelay:      time.Duration(wc.MinDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(wc.MaxDelayMs) * time.Millisecond,
		ReplyDelayMin: time.Duration(wc.ReplyDelayMinMs) * time.Millisecond,
		ReplyDelayMax: time.Duration(wc.ReplyDelayMaxMs) * time.Millisecond,
		WaitTimeout:   time.Duration(wc.IMAPWaitTimeoutMs) * time.Millisecond,
		PollInterval:  time.Duration(wc.PollIntervalMs) * time.Millisecond,
		SkipDelay:     10 * time.Second,
	}
}

// StartWarmup launches (or resumes) today's warm-up for the domain account.
// The registry lock is held for the whole decision so two concurrent starts
// for the same account cannot both launch.
func (m *Manager) StartWarmup(domainAccountID uint) (*models.WarmupSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[domainAccountID]; ok {
		return nil, ErrAlreadyRunning
	}

	var domain models.DomainAccount
	if err := m.db.First(&domain, domainAccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, err
	}

	var leads []models.LeadAccount
	if err := m.db.Order("created_at ASC, id ASC").Find(&leads).Error; err != nil {
		return nil, err
	}
	if len(leads) == 0 {
		return nil, ErrNoLeads
	}

	session, err := m.resolveSession(domainAccountID, len(leads))
	if err != nil {
		return nil, err
	}

	if err := m.db.Model(&models.DomainAccount{}).
		Where("id = ?", domainAccountID).
		Update("status", models.DomainStatusRunning).Error; err != nil {
		return nil, err
	}
	domain.Status = models.DomainStatusRunning

	o := newOrchestrator(m, domain, leads, session)
	m.running[domainAccountID] = o
	go o.run()

	m.logger.WithFields(logrus.Fields{
		"domain_account_id": domainAccountID,
		"session_id":        session.ID,
		"lead_index":        session.CurrentLeadIndex,
		"leads":             len(leads),
	}).Info("Warmup started")
	return session, nil
}

// resolveSession picks or creates today's session row for a start request.
// A completed session whose index is short of the current lead count means
// leads were appended since completion, and the run picks up from the index.
func (m *Manager) resolveSession(domainAccountID uint, leadCount int) (*models.WarmupSession, error) {
	completed, err := m.sessions.FindCompletedToday(domainAccountID)
	if err != nil {
		return nil, err
	}
	if completed != nil {
		if completed.CurrentLeadIndex < leadCount {
			return m.sessions.UpdateStatus(completed.ID, models.SessionSending, &store.SessionUpdate{
				ClearError:       true,
				ClearCompletedAt: true,
			})
		}
		return nil, ErrCompletedToday
	}

	active, err := m.sessions.FindActiveToday(domainAccountID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if active.Status == models.SessionPaused {
			return m.sessions.UpdateStatus(active.ID, models.SessionSending, nil)
		}
		return nil, fmt.Errorf("%w with status %s", ErrSessionActive, active.Status)
	}

	return m.sessions.CreateOrReset(domainAccountID)
}

// Pause suspends a live run, keeping the session resumable at its current
// index. Pausing an already-paused account returns the stored row unchanged.
func (m *Manager) Pause(domainAccountID uint) (*models.WarmupSession, error) {
	m.mu.Lock()
	o, ok := m.running[domainAccountID]
	if ok {
		delete(m.running, domainAccountID)
	}
	m.mu.Unlock()

	if !ok {
		active, err := m.sessions.FindActiveToday(domainAccountID)
		if err != nil {
			return nil, err
		}
		if active != nil && active.Status == models.SessionPaused {
			return active, nil
		}
		return nil, ErrNotRunning
	}

	o.interrupt(true)
	session, err := m.sessions.UpdateStatus(o.sessionID(), models.SessionPaused, nil)
	if err != nil {
		return session, err
	}
	if err := m.db.Model(&models.DomainAccount{}).
		Where("id = ?", domainAccountID).
		Update("status", models.DomainStatusPaused).Error; err != nil {
		return session, err
	}

	m.logger.WithFields(logrus.Fields{
		"domain_account_id": domainAccountID,
		"lead_index":        session.CurrentLeadIndex,
	}).Info("Warmup paused")
	return session, nil
}

// Resume is a start: the start path already knows how to pick up a paused
// session at its stored index.
func (m *Manager) Resume(domainAccountID uint) (*models.WarmupSession, error) {
	return m.StartWarmup(domainAccountID)
}

// Stop terminally fails today's session. A live run is torn down first; with
// no live run, any non-terminal row is failed directly. With nothing to
// stop, Stop is a no-op returning nil.
func (m *Manager) Stop(domainAccountID uint) (*models.WarmupSession, error) {
	m.mu.Lock()
	o, ok := m.running[domainAccountID]
	if ok {
		delete(m.running, domainAccountID)
	}
	m.mu.Unlock()

	reason := StopReason
	if ok {
		o.interrupt(false)
		session, err := m.sessions.UpdateStatus(o.sessionID(), models.SessionFailed, &store.SessionUpdate{ErrorMessage: &reason})
		if err != nil {
			return session, err
		}
		if err := m.setDomainIdle(domainAccountID); err != nil {
			return session, err
		}
		m.logger.WithField("domain_account_id", domainAccountID).Info("Warmup stopped")
		return session, nil
	}

	active, err := m.sessions.FindActiveToday(domainAccountID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}
	session, err := m.sessions.UpdateStatus(active.ID, models.SessionFailed, &store.SessionUpdate{ErrorMessage: &reason})
	if err != nil {
		return session, err
	}
	if err := m.setDomainIdle(domainAccountID); err != nil {
		return session, err
	}
	m.logger.WithField("domain_account_id", domainAccountID).Info("Stale warmup session stopped")
	return session, nil
}

func (m *Manager) setDomainIdle(domainAccountID uint) error {
	return m.db.Model(&models.DomainAccount{}).
		Where("id = ?", domainAccountID).
		Update("status", models.DomainStatusIdle).Error
}

// ActiveStatus is the live view of a running orchestrator.
type ActiveStatus struct {
	CurrentLeadIndex int  `json:"current_lead_index"`
	TotalLeads       int  `json:"total_leads"`
	IsPaused         bool `json:"is_paused"`
}

// WarmupStatus is the combined live and stored view for one domain account.
type WarmupStatus struct {
	Active         *ActiveStatus         `json:"active,omitempty"`
	Session        *models.WarmupSession `json:"session,omitempty"`
	CompletedToday bool                  `json:"completed_today"`
}

// Status reports the account's live progress, its most relevant session row
// for today, and whether today's full lead list has been worked through.
func (m *Manager) Status(domainAccountID uint) (*WarmupStatus, error) {
	var domain models.DomainAccount
	if err := m.db.First(&domain, domainAccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDomainNotFound
		}
		return nil, err
	}

	var leadCount int64
	if err := m.db.Model(&models.LeadAccount{}).Count(&leadCount).Error; err != nil {
		return nil, err
	}

	status := &WarmupStatus{}

	m.mu.Lock()
	o, live := m.running[domainAccountID]
	m.mu.Unlock()
	if live {
		idx, total, paused := o.snapshot()
		status.Active = &ActiveStatus{
			CurrentLeadIndex: idx,
			TotalLeads:       total,
			IsPaused:         paused,
		}
	}

	active, err := m.sessions.FindActiveToday(domainAccountID)
	if err != nil {
		return nil, err
	}
	completed, err := m.sessions.FindCompletedToday(domainAccountID)
	if err != nil {
		return nil, err
	}

	if active != nil {
		status.Session = active
	} else {
		status.Session = completed
	}
	// Leads appended after completion reopen the day.
	status.CompletedToday = completed != nil && completed.CurrentLeadIndex >= int(leadCount)

	return status, nil
}

// RunningIDs returns the domain account ids with a live orchestrator.
func (m *Manager) RunningIDs() []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown pauses every live run so each session can resume at its stored
// index after a restart.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make(map[uint]*Orchestrator, len(m.running))
	for id, o := range m.running {
		live[id] = o
	}
	m.running = make(map[uint]*Orchestrator)
	m.mu.Unlock()

	for id, o := range live {
		o.interrupt(true)
		if _, err := m.sessions.UpdateStatus(o.sessionID(), models.SessionPaused, nil); err != nil {
			m.logger.WithError(err).WithField("domain_account_id", id).Error("Failed to pause session during shutdown")
		}
		if err := m.db.Model(&models.DomainAccount{}).
			Where("id = ?", id).
			Update("status", models.DomainStatusPaused).Error; err != nil {
			m.logger.WithError(err).WithField("domain_account_id", id).Error("Failed to update domain status during shutdown")
		}
	}
	if len(live) > 0 {
		m.logger.WithField("paused", len(live)).Info("Warmup manager shut down")
	}
}

// deregister removes the orchestrator from the registry if it is still the
// registered instance. Pause/Stop remove it themselves; this is the
// completion and failure path.
func (m *Manager) deregister(domainAccountID uint, o *Orchestrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[domainAccountID] == o {
		delete(m.running, domainAccountID)
	}
}
