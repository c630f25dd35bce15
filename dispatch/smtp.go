package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPDispatcher sends outreach messages over SMTP.
type SMTPDispatcher struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
}

func NewSMTPDispatcher(host string, port int, username, password, from string) *SMTPDispatcher {
	return &SMTPDispatcher{
		Host:      host,
		Port:      port,
		Username:  username,
		Password:  password,
		FromEmail: from,
	}
}

func (d *SMTPDispatcher) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	if msg.To == "" {
		return "", fmt.Errorf("participant %d has no address", msg.ParticipantID)
	}

	messageID := uuid.New().String()

	m := gomail.NewMessage()
	m.SetHeader("From", d.FromEmail)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@nexcrm>", messageID))
	m.SetBody("text/html", msg.Body)

	dialer := gomail.NewDialer(d.Host, d.Port, d.Username, d.Password)

	done := make(chan error, 1)
	go func() { done <- dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("failed to send to %s: %w", msg.To, err)
		}
		return messageID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
