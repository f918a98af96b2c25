package worker

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inboxwarm/models"
	"inboxwarm/store"
	"inboxwarm/utils"
)

// Sender delivers one outbound message on behalf of a mailbox.
type Sender interface {
	Send(auth utils.MailboxAuth, msg utils.OutboundEmail) (utils.SendResult, error)
}

// Listener opens INBOX subscriptions for a mailbox.
type Listener interface {
	Listen(auth utils.MailboxAuth, opts utils.WatchOptions) utils.MailboxSubscription
}

// Options carries the pacing knobs of a warm-up run.
type Options struct {
	// Delay between finishing one lead and starting the next.
	MinDelay time.Duration
	MaxDelay time.Duration

	// Delay between a lead receiving a message and sending its reply.
	ReplyDelayMin time.Duration
	ReplyDelayMax time.Duration

	// Budget for each wait on an incoming message.
	WaitTimeout time.Duration

	// Fallback IMAP scan period while idling.
	PollInterval time.Duration

	// Pause after a timed-out lead before moving to the next one.
	SkipDelay time.Duration
}

// errInterrupted marks a step abandoned because the run was paused or
// stopped. Whoever interrupted the run owns the session row from there on.
var errInterrupted = errors.New("warmup interrupted")

type waitResult int

const (
	waitOK waitResult = iota
	waitTimeout
	waitCancelled
)

// Orchestrator drives one domain account through its daily send/reply cycle
// against the ordered lead list. It runs as a single goroutine; all mailbox
// work within a session is sequential.
type Orchestrator struct {
	domain  models.DomainAccount
	leads   []models.LeadAccount
	session *models.WarmupSession

	db       *gorm.DB
	sessions *store.SessionStore
	mailLog  *store.MailLog
	sender   Sender
	listener Listener
	texter   utils.TextGenerator
	opts     Options
	manager  *Manager
	logger   *logrus.Entry

	mu          sync.Mutex
	paused      bool
	stopped     bool
	interrupted bool
	stopCh      chan struct{}
	leadSub     utils.MailboxSubscription
	domainSub   utils.MailboxSubscription
}

func newOrchestrator(m *Manager, domain models.DomainAccount, leads []models.LeadAccount, session *models.WarmupSession) *Orchestrator {
	return &Orchestrator{
		domain:   domain,
		leads:    leads,
		session:  session,
		db:       m.db,
		sessions: m.sessions,
		mailLog:  m.mailLog,
		sender:   m.sender,
		listener: m.listener,
		texter:   m.texter,
		opts:     m.opts,
		manager:  m,
		stopCh:   make(chan struct{}),
		logger: logrus.WithFields(logrus.Fields{
			"component":         "orchestrator",
			"domain_account_id": domain.ID,
			"session_id":        session.ID,
		}),
	}
}

// run is the goroutine entry point.
func (o *Orchestrator) run() {
	err := o.loop()
	if err != nil && !errors.Is(err, errInterrupted) {
		o.fail(err)
	}
}

// active reports whether the run still owns its session row. Pause and stop
// take over persistence, so an inactive run must not write status.
func (o *Orchestrator) active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.paused && !o.stopped
}

func (o *Orchestrator) sessionID() uint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.ID
}

// snapshot returns the live progress counters for status reads.
func (o *Orchestrator) snapshot() (currentLeadIndex, totalLeads int, paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.CurrentLeadIndex, len(o.leads), o.paused
}

// interrupt wakes every blocked step and closes any open subscription. With
// pause=false the run is stopped for good. Safe to call more than once.
func (o *Orchestrator) interrupt(pause bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if pause {
		o.paused = true
	} else {
		o.stopped = true
	}
	if !o.interrupted {
		o.interrupted = true
		close(o.stopCh)
	}
	o.closeSubsLocked()
}

func (o *Orchestrator) closeSubsLocked() {
	if o.leadSub != nil {
		o.leadSub.Close()
		o.leadSub = nil
	}
	if o.domainSub != nil {
		o.domainSub.Close()
		o.domainSub = nil
	}
}

// loop walks the lead list from the session's stored index. Each iteration
// is one full lead cycle; the index only moves forward.
func (o *Orchestrator) loop() error {
	for {
		if !o.active() {
			return errInterrupted
		}

		idx := o.session.CurrentLeadIndex
		if idx >= len(o.leads) {
			return o.complete()
		}
		lead := o.leads[idx]
		o.logger.WithFields(logrus.Fields{
			"lead_index": idx,
			"lead":       lead.Email,
		}).Info("Starting lead cycle")

		outbound, err := o.texter.Outbound(o.domain.Name, lead.Name, o.domain.Email)
		if err != nil {
			return fmt.Errorf("text generation failed for lead %s: %w", lead.Email, err)
		}

		domainSMTP, err := utils.SMTPAuth(o.domain.Mailbox)
		if err != nil {
			return err
		}
		sent, err := o.sender.Send(domainSMTP, utils.OutboundEmail{
			To:      lead.Email,
			Subject: outbound.Subject,
			Body:    outbound.Body,
		})
		if err != nil {
			return fmt.Errorf("failed to send to lead %s: %w", lead.Email, err)
		}

		// The log entry is appended even if a pause landed mid-send; the
		// message left the building either way.
		if err := o.logEntry(models.DirectionSent, o.domain.Email, lead.Email, outbound.Subject, outbound.Body, sent.MessageID, "", idx); err != nil {
			return err
		}
		if !o.active() {
			return errInterrupted
		}
		if err := o.updateSession(models.SessionWaitingReply, &store.SessionUpdate{LastMessageID: &sent.MessageID}); err != nil {
			return err
		}

		// Watch the lead's INBOX for the message we just sent.
		leadSub, err := o.openSub(lead.Mailbox, o.domain.Email, &o.leadSub)
		if err != nil {
			return err
		}
		incoming, res := o.waitFor(leadSub, o.domain.Email)
		o.closeSub(&o.leadSub)
		switch res {
		case waitCancelled:
			return errInterrupted
		case waitTimeout:
			if err := o.skipLead(idx, lead.Email); err != nil {
				return err
			}
			continue
		}

		if err := o.logInbound(incoming, lead.Email, idx); err != nil {
			return err
		}

		// Leads answer like a human would, after a while.
		if !o.sleep(randomDelay(o.opts.ReplyDelayMin, o.opts.ReplyDelayMax)) {
			return errInterrupted
		}

		reply, err := o.texter.Reply(lead.Name, o.domain.Name, incoming.Subject, incoming.TextBody)
		if err != nil {
			return fmt.Errorf("reply generation failed for lead %s: %w", lead.Email, err)
		}

		leadSMTP, err := utils.SMTPAuth(lead.Mailbox)
		if err != nil {
			return err
		}
		replied, err := o.sender.Send(leadSMTP, utils.OutboundEmail{
			To:        o.domain.Email,
			Subject:   reply.Subject,
			Body:      reply.Body,
			InReplyTo: incoming.MessageID,
		})
		if err != nil {
			return fmt.Errorf("failed to send reply from lead %s: %w", lead.Email, err)
		}
		if err := o.logEntry(models.DirectionReplied, lead.Email, o.domain.Email, reply.Subject, reply.Body, replied.MessageID, incoming.MessageID, idx); err != nil {
			return err
		}

		// Watch the domain's INBOX for the lead's reply to land.
		domainSub, err := o.openSub(o.domain.Mailbox, lead.Email, &o.domainSub)
		if err != nil {
			return err
		}
		landed, res := o.waitFor(domainSub, lead.Email)
		o.closeSub(&o.domainSub)
		switch res {
		case waitCancelled:
			return errInterrupted
		case waitTimeout:
			if err := o.skipLead(idx, lead.Email); err != nil {
				return err
			}
			continue
		}

		if err := o.logInbound(landed, o.domain.Email, idx); err != nil {
			return err
		}

		o.logger.WithFields(logrus.Fields{
			"lead_index": idx,
			"lead":       lead.Email,
		}).Info("Lead cycle finished")

		next := idx + 1
		if !o.active() {
			return errInterrupted
		}
		if err := o.updateSession(models.SessionSending, &store.SessionUpdate{CurrentLeadIndex: &next}); err != nil {
			return err
		}
		if next >= len(o.leads) {
			return o.complete()
		}

		if !o.sleep(randomDelay(o.opts.MinDelay, o.opts.MaxDelay)) {
			return errInterrupted
		}
	}
}

// skipLead records a wait timeout and moves past the lead. Skipped leads are
// not retried within the session.
func (o *Orchestrator) skipLead(idx int, leadEmail string) error {
	o.logger.WithFields(logrus.Fields{
		"lead_index": idx,
		"lead":       leadEmail,
	}).Warn("No message arrived within the wait budget, skipping lead")

	if !o.active() {
		return errInterrupted
	}
	next := idx + 1
	if err := o.updateSession(models.SessionSending, &store.SessionUpdate{CurrentLeadIndex: &next}); err != nil {
		return err
	}
	if !o.sleep(o.opts.SkipDelay) {
		return errInterrupted
	}
	return nil
}

// openSub arms a subscription under the lock so an interrupt arriving at the
// same moment still gets to close it.
func (o *Orchestrator) openSub(mb models.Mailbox, fromFilter string, slot *utils.MailboxSubscription) (utils.MailboxSubscription, error) {
	auth, err := utils.IMAPAuth(mb)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.paused || o.stopped {
		return nil, errInterrupted
	}
	sub := o.listener.Listen(auth, utils.WatchOptions{
		FromFilter:   fromFilter,
		WaitTimeout:  o.opts.WaitTimeout,
		PollInterval: o.opts.PollInterval,
	})
	*slot = sub
	return sub, nil
}

func (o *Orchestrator) closeSub(slot *utils.MailboxSubscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if *slot != nil {
		(*slot).Close()
		*slot = nil
	}
}

// waitFor consumes the subscription until a message from wantFrom arrives,
// the wait budget expires, or the subscription is torn down under us.
// Messages from anyone else are ignored.
func (o *Orchestrator) waitFor(sub utils.MailboxSubscription, wantFrom string) (*utils.InboundEmail, waitResult) {
	for ev := range sub.Events() {
		if ev.Timeout {
			return nil, waitTimeout
		}
		if ev.Message == nil {
			continue
		}
		if !utils.SameAddress(ev.Message.From, wantFrom) {
			o.logger.WithField("from", ev.Message.From).Debug("Ignoring unrelated message")
			continue
		}
		return ev.Message, waitOK
	}
	return nil, waitCancelled
}

func (o *Orchestrator) logEntry(direction, from, to, subject, body, messageID, inReplyTo string, idx int) error {
	sessionID := o.sessionID()
	return o.mailLog.Append(&models.MailLogEntry{
		SessionID:   &sessionID,
		FromAddress: from,
		ToAddress:   to,
		Subject:     subject,
		Body:        body,
		MessageID:   messageID,
		InReplyTo:   inReplyTo,
		Direction:   direction,
		LeadIndex:   idx,
	})
}

func (o *Orchestrator) logInbound(in *utils.InboundEmail, to string, idx int) error {
	return o.logEntry(models.DirectionReceived, in.From, to, in.Subject, in.TextBody, in.MessageID, in.InReplyTo, idx)
}

// updateSession persists the status transition and refreshes the in-memory
// row so snapshot readers see live progress.
func (o *Orchestrator) updateSession(status string, update *store.SessionUpdate) error {
	stored, err := o.sessions.UpdateStatus(o.sessionID(), status, update)
	if err != nil {
		return fmt.Errorf("failed to persist session state: %w", err)
	}
	o.mu.Lock()
	o.session = stored
	o.mu.Unlock()
	return nil
}

// sleep blocks for d unless the run is interrupted first.
func (o *Orchestrator) sleep(d time.Duration) bool {
	if d <= 0 {
		return o.active()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return o.active()
	case <-o.stopCh:
		return false
	}
}

func (o *Orchestrator) complete() error {
	if !o.active() {
		return errInterrupted
	}
	now := time.Now()
	if err := o.updateSession(models.SessionCompleted, &store.SessionUpdate{CompletedAt: &now}); err != nil {
		return err
	}
	o.setDomainStatus(models.DomainStatusIdle)
	o.manager.deregister(o.domain.ID, o)
	o.logger.WithField("leads", len(o.leads)).Info("Warmup session completed")
	return nil
}

// fail closes the session terminally. The error message is kept on the row
// so the API can surface what went wrong.
func (o *Orchestrator) fail(cause error) {
	o.logger.WithError(cause).Error("Warmup session failed")
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("domain_account_id", fmt.Sprintf("%d", o.domain.ID))
		sentry.CaptureException(cause)
	})

	o.mu.Lock()
	o.closeSubsLocked()
	skipWrite := o.paused || o.stopped
	o.mu.Unlock()

	if !skipWrite {
		msg := cause.Error()
		if _, err := o.sessions.UpdateStatus(o.sessionID(), models.SessionFailed, &store.SessionUpdate{ErrorMessage: &msg}); err != nil {
			o.logger.WithError(err).Error("Failed to record session failure")
		}
		o.setDomainStatus(models.DomainStatusIdle)
	}
	o.manager.deregister(o.domain.ID, o)
}

func (o *Orchestrator) setDomainStatus(status string) {
	if err := o.db.Model(&models.DomainAccount{}).
		Where("id = ?", o.domain.ID).
		Update("status", status).Error; err != nil {
		o.logger.WithError(err).Error("Failed to update domain account status")
	}
}

// randomDelay picks a uniform duration in [min, max].
func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
