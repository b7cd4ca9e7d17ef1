package mailer

import (
	"context"

	"github.com/ziflex/lecho/v3"
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer only logs outgoing mail. Used when SES is not configured.
type LogMailer struct {
	Logger *lecho.Logger
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.Logger.Infof("Email not sent, no mail transport configured to:%s subject:%q", msg.To, msg.Subject)
	return nil
}
