package core

import "net/mail"

type (
	// EmailMessage is a plain-text message for staff alerts (delete requests,
	// sync failures). No templating: the billing and attendance flows talk to
	// parents over Telegram, email only ever reaches the admins.
	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Subject string
		Body    string
	}

	// EmailService is any service that can send emails.
	EmailService interface {
		// SendMessages sends messages concurrently.
		SendMessages(messages ...*EmailMessage)
	}
)

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return m.Body != "" }
