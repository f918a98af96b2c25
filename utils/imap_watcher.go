package utils

import (
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

const (
	maxConnectAttempts = 5
	reconnectStep      = 5 * time.Second
	reopenScanDelay    = 2 * time.Second

	defaultWaitTimeout  = 10 * time.Minute
	defaultPollInterval = 30 * time.Second
)

// InboundEmail is a parsed message delivered by a mailbox subscription.
type InboundEmail struct {
	MessageID string
	From      string
	FromName  string
	To        string
	Subject   string
	TextBody  string
	InReplyTo string
	Date      time.Time
}

// WatchEvent is either a delivered message or the subscription's single
// timeout notification, never both.
type WatchEvent struct {
	Message *InboundEmail
	Timeout bool
}

// WatchOptions configures one mailbox subscription.
type WatchOptions struct {
	// FromFilter restricts the server-side UNSEEN search to a sender
	// address. Empty means every unseen message.
	FromFilter string

	// WaitTimeout is the budget from subscription start until the timeout
	// event fires. Defaults to 10 minutes.
	WaitTimeout time.Duration

	// PollInterval is the fallback UNSEEN scan period while idling.
	// Defaults to 30 seconds.
	PollInterval time.Duration
}

// MailboxSubscription delivers events until the wait budget expires or
// Close is called. The events channel is closed when delivery stops, so
// late readers observe closure rather than blocking forever.
type MailboxSubscription interface {
	Events() <-chan WatchEvent
	Close()
}

// IMAPListener opens persistent INBOX subscriptions over IMAP.
type IMAPListener struct {
	logger *logrus.Entry
}

func NewIMAPListener() *IMAPListener {
	return &IMAPListener{
		logger: logrus.WithField("component", "imap"),
	}
}

// Listen starts watching the mailbox's INBOX. Messages matching the filter
// that are unseen at subscribe time or arrive before disconnect are
// delivered at least once; the caller tolerates duplicates. Fetched
// messages are marked seen.
func (l *IMAPListener) Listen(auth MailboxAuth, opts WatchOptions) MailboxSubscription {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	sub := &imapSubscription{
		auth:   auth,
		opts:   opts,
		events: make(chan WatchEvent, 16),
		stop:   make(chan struct{}),
		logger: l.logger.WithField("mailbox", auth.Address),
	}
	go sub.run()
	return sub
}

type imapSubscription struct {
	auth   MailboxAuth
	opts   WatchOptions
	events chan WatchEvent
	stop   chan struct{}
	once   sync.Once
	logger *logrus.Entry
}

func (s *imapSubscription) Events() <-chan WatchEvent {
	return s.events
}

// Close is idempotent and releases the connection and all timers.
func (s *imapSubscription) Close() {
	s.once.Do(func() {
		close(s.stop)
	})
}

// run owns the connection lifecycle: connect, watch, reconnect with linear
// backoff, and the single timeout notification when the wait budget or the
// attempt budget is exhausted.
func (s *imapSubscription) run() {
	defer close(s.events)

	budget := time.NewTimer(s.opts.WaitTimeout)
	defer budget.Stop()

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		select {
		case <-s.stop:
			return
		default:
		}

		c, err := s.connect()
		if err == nil {
			done, watchErr := s.watch(c, budget)
			_ = c.Logout()
			if done {
				return
			}
			err = watchErr
		}

		s.logger.WithError(err).Warnf("IMAP session lost (attempt %d/%d)", attempt, maxConnectAttempts)
		if attempt == maxConnectAttempts {
			break
		}

		backoff := time.NewTimer(time.Duration(attempt) * reconnectStep)
		select {
		case <-backoff.C:
		case <-s.stop:
			backoff.Stop()
			return
		case <-budget.C:
			backoff.Stop()
			s.emit(WatchEvent{Timeout: true})
			return
		}
	}

	s.emit(WatchEvent{Timeout: true})
}

func (s *imapSubscription) connect() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.auth.Host, s.auth.Port)
	tlsConfig := &tls.Config{ServerName: s.auth.Host}

	var c *client.Client
	var err error
	if s.auth.Secure {
		c, err = client.DialTLS(addr, tlsConfig)
	} else {
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(tlsConfig)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(s.auth.Username, s.auth.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return c, nil
}

// watch runs one connected session: an initial UNSEEN scan, a short rescan
// to close the race between opening the INBOX and entering IDLE, then IDLE
// interleaved with fallback polls. Returns done=true when delivery is over
// (stopped or timed out); otherwise the error that broke the session.
func (s *imapSubscription) watch(c *client.Client, budget *time.Timer) (bool, error) {
	if _, err := c.Select("INBOX", false); err != nil {
		return false, fmt.Errorf("failed to select INBOX: %w", err)
	}

	if done, err := s.scan(c); done || err != nil {
		return done, err
	}

	updates := make(chan client.Update, 32)
	c.Updates = updates

	reopen := time.NewTimer(reopenScanDelay)
	defer reopen.Stop()
	poll := time.NewTicker(s.opts.PollInterval)
	defer poll.Stop()

	for {
		stopIdle := make(chan struct{})
		idleDone := make(chan error, 1)
		go func() {
			idleDone <- c.Idle(stopIdle, nil)
		}()

		var rescan bool
		select {
		case <-s.stop:
			close(stopIdle)
			<-idleDone
			return true, nil
		case <-budget.C:
			close(stopIdle)
			<-idleDone
			s.emit(WatchEvent{Timeout: true})
			return true, nil
		case <-reopen.C:
			rescan = true
		case <-poll.C:
			rescan = true
		case <-updates:
			rescan = true
		case err := <-idleDone:
			// Idle ended on its own: the connection is gone.
			if err == nil {
				err = fmt.Errorf("IMAP idle terminated by server")
			}
			return false, err
		}

		if rescan {
			close(stopIdle)
			if err := <-idleDone; err != nil {
				return false, err
			}
			drainUpdates(updates)
			if done, err := s.scan(c); done || err != nil {
				return done, err
			}
		}
	}
}

// scan searches UNSEEN (optionally AND FROM) and delivers every match.
// Fetching BODY[] marks the messages seen.
func (s *imapSubscription) scan(c *client.Client) (bool, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if s.opts.FromFilter != "" {
		criteria.Header.Add("From", s.opts.FromFilter)
	}

	ids, err := c.Search(criteria)
	if err != nil {
		return false, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return false, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.Fetch(seqset, items, messages)
	}()

	for msg := range messages {
		parsed, err := parseInbound(msg, section)
		if err != nil {
			// Drop this message only.
			s.logger.WithError(err).Warnf("Failed to parse message %d", msg.SeqNum)
			continue
		}
		if !s.emit(WatchEvent{Message: parsed}) {
			for range messages {
			}
			<-fetchDone
			return true, nil
		}
	}

	if err := <-fetchDone; err != nil {
		return false, fmt.Errorf("error during fetch: %w", err)
	}
	return false, nil
}

// emit delivers an event unless the subscription was closed first.
func (s *imapSubscription) emit(ev WatchEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}

func drainUpdates(updates <-chan client.Update) {
	for {
		select {
		case <-updates:
		default:
			return
		}
	}
}

// parseInbound reduces a fetched message to the fields the orchestrator
// correlates on.
func parseInbound(msg *imap.Message, section *imap.BodySectionName) (*InboundEmail, error) {
	env := msg.Envelope
	if env == nil {
		return nil, fmt.Errorf("message envelope not found")
	}

	in := &InboundEmail{
		MessageID: env.MessageId,
		Subject:   env.Subject,
		InReplyTo: env.InReplyTo,
		Date:      env.Date,
	}
	if len(env.From) > 0 {
		in.From = env.From[0].MailboxName + "@" + env.From[0].HostName
		in.FromName = env.From[0].PersonalName
	}
	if len(env.To) > 0 {
		in.To = env.To[0].MailboxName + "@" + env.To[0].HostName
	}

	literal := msg.GetBody(section)
	if literal == nil {
		return nil, fmt.Errorf("message body not found")
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to create message reader: %w", err)
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if strings.Contains(contentType, "text/plain") {
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return nil, fmt.Errorf("failed to read body: %w", err)
				}
				in.TextBody = string(b)
			}
		}
	}

	return in, nil
}
