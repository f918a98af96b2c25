package utils

import (
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"inboxwarm/models"
)

// MailboxAuth is a decrypted endpoint for one protocol of one mailbox.
type MailboxAuth struct {
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool

	// Identity of the mailbox owner, used for From headers and filters.
	Name    string
	Address string
}

// SMTPAuth resolves a mailbox's SMTP endpoint, decrypting the stored secret.
// The username defaults to the mailbox address when not set explicitly.
func SMTPAuth(mb models.Mailbox) (MailboxAuth, error) {
	password, err := Decrypt(mb.SMTPPassword)
	if err != nil {
		return MailboxAuth{}, fmt.Errorf("failed to decrypt SMTP password for %s: %w", mb.Email, err)
	}

	username := mb.SMTPUsername
	if username == "" {
		username = mb.Email
	}

	return MailboxAuth{
		Host:     mb.SMTPHost,
		Port:     mb.SMTPPort,
		Username: username,
		Password: password,
		Secure:   mb.SMTPSecure,
		Name:     mb.Name,
		Address:  mb.Email,
	}, nil
}

// IMAPAuth resolves a mailbox's IMAP endpoint, decrypting the stored secret.
func IMAPAuth(mb models.Mailbox) (MailboxAuth, error) {
	password, err := Decrypt(mb.IMAPPassword)
	if err != nil {
		return MailboxAuth{}, fmt.Errorf("failed to decrypt IMAP password for %s: %w", mb.Email, err)
	}

	username := mb.IMAPUsername
	if username == "" {
		username = mb.Email
	}

	return MailboxAuth{
		Host:     mb.IMAPHost,
		Port:     mb.IMAPPort,
		Username: username,
		Password: password,
		Secure:   mb.IMAPSecure,
		Name:     mb.Name,
		Address:  mb.Email,
	}, nil
}

// OutboundEmail is a message to hand to the SMTP adapter.
type OutboundEmail struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string // message-id of the message being replied to, if any
}

// SendResult reports what the server accepted.
type SendResult struct {
	MessageID string
	Accepted  []string
}

// NewMessageID generates a fresh RFC 5322 message identifier of the shape
// <uuid@sender-domain>.
func NewMessageID(senderAddress string) string {
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), ExtractDomain(senderAddress))
}

// SMTPSender sends messages over a single-use SMTP submission connection.
type SMTPSender struct{}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{}
}

// Send delivers msg from the given mailbox. The connection is opened for
// this message only; gomail closes it on every exit path. Connect, auth and
// send failures are surfaced verbatim.
func (s *SMTPSender) Send(auth MailboxAuth, msg OutboundEmail) (SendResult, error) {
	mid := NewMessageID(auth.Address)

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", auth.Name, auth.Address))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", mid)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
		m.SetHeader("References", msg.InReplyTo)
	}
	m.SetBody("text/plain", msg.Body)

	dialer := gomail.NewDialer(auth.Host, auth.Port, auth.Username, auth.Password)
	dialer.SSL = auth.Secure
	dialer.TLSConfig = &tls.Config{ServerName: auth.Host}

	if err := dialer.DialAndSend(m); err != nil {
		return SendResult{}, err
	}

	return SendResult{MessageID: mid, Accepted: []string{msg.To}}, nil
}
