// Package notify composes and sends digest notifications for newly
// ingested fiscal documents.
package notify

import (
	"fmt"
	"io"

	"github.com/gfmartins/nfe-monitor/internal/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Attachment is a file generated on the fly while the message is written.
type Attachment struct {
	Filename string
	Write    func(w io.Writer) error
}

// Message is one outgoing digest email.
type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Sender delivers a composed message. The pipeline treats delivery as
// fire-and-forget: the return value never gates persistence.
type Sender interface {
	Send(msg Message) error
}

// Mailer sends messages over SMTP.
type Mailer struct {
	cfg config.SMTPConfig
	log logrus.FieldLogger
}

// NewMailer creates an SMTP sender.
func NewMailer(cfg config.SMTPConfig, log logrus.FieldLogger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// Send dials the SMTP server and delivers the message. Without configured
// credentials the message is logged instead of sent, which keeps local
// development from needing a mail server.
func (m *Mailer) Send(msg Message) error {
	if m.cfg.Username == "" {
		m.log.WithFields(logrus.Fields{"to": msg.To, "subject": msg.Subject}).
			Info("smtp not configured, skipping delivery")
		return nil
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.Username))
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", msg.HTML)
	for _, att := range msg.Attachments {
		gm.Attach(att.Filename, gomail.SetCopyFunc(att.Write))
	}

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	if err := dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}

	return nil
}
