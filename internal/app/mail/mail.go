// Package mail sends verification emails. Delivery is best effort: the
// verification code is always persisted first, so a failed send only means
// the user must request another code.
package mail

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/blockscope/explorer/pkg/logger"
)

// Sender delivers a verification code to an address.
type Sender interface {
	SendVerificationCode(to, code string) error
}

// NoopSender logs the code instead of sending it. Used when SMTP is not
// configured, which keeps local development working without a relay.
type NoopSender struct {
	Logger *logger.Logger
}

func (s NoopSender) SendVerificationCode(to, code string) error {
	if s.Logger != nil {
		s.Logger.WithField("to", to).WithField("code", code).Info("verification code (smtp disabled)")
	}
	return nil
}

var _ Sender = NoopSender{}

// SMTPSender delivers codes over a plain SMTP relay.
type SMTPSender struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) SendVerificationCode(to, code string) error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: Your verification code",
		"",
		"Your verification code is " + code + ". It expires in 15 minutes.",
	}, "\r\n")
	return smtp.SendMail(addr, auth, s.From, []string{to}, []byte(msg))
}
