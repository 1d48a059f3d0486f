package mailproto

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/mail.v2"
)

const mailer = "Watchman"

type Content struct {
	From    string
	To      string
	Subject string
	Text    string
	// HTML is optional; when set the message becomes multipart/alternative.
	HTML string
	Date time.Time
}

// Compose renders content as a MIME message split into header and body
// lines, ready to be streamed by Send.
func Compose(c Content, helo string) (Message, error) {
	m := mail.NewMessage()
	m.SetHeader("From", c.From)
	m.SetHeader("To", SplitAddresses(c.To)...)
	m.SetHeader("Subject", c.Subject)
	m.SetHeader("X-Mailer", mailer)
	m.SetHeader("Message-ID", messageID(helo))
	if !c.Date.IsZero() {
		m.SetDateHeader("Date", c.Date)
	}

	m.SetBody("text/plain", c.Text)
	if c.HTML != "" {
		m.AddAlternative("text/html", c.HTML)
	}

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return Message{}, fmt.Errorf("failed to render message: %w", err)
	}
	return splitMessage(buf.String())
}

// ProbeMessage is the plain text mail whose subject carries a loop
// reference.
func ProbeMessage(env Envelope, reference string, now time.Time) (Message, error) {
	return Compose(Content{
		From:    env.From,
		To:      env.To,
		Subject: reference,
		Text: fmt.Sprintf("Mail loop probe sent by %s at %s.\r\nReference: %s\r\n",
			mailer, now.Format(time.RFC1123Z), reference),
		Date: now,
	}, env.Helo)
}

func splitMessage(raw string) (Message, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	head, body, found := strings.Cut(raw, "\n\n")
	if !found {
		return Message{}, fmt.Errorf("rendered message has no header/body separator")
	}
	body = strings.TrimSuffix(body, "\n")
	return Message{
		Headers: strings.Split(head, "\n"),
		Body:    strings.Split(body, "\n"),
	}, nil
}

func messageID(helo string) string {
	if helo == "" {
		helo = defaultHeloName
	}
	return "<" + uuid.NewString() + "@" + helo + ">"
}
