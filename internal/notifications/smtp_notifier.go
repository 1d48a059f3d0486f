package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/whiskeyjimbo/Watchman/internal/mailproto"
	"github.com/whiskeyjimbo/Watchman/internal/netline"
	"go.uber.org/zap"
)

const DefaultSubject = "[Watchman] %DISPLAY_NAME% is %STATUS%"

type SMTPOptions struct {
	// Servers is a comma separated smart host list tried in order.
	Servers string
	TLS     bool
	From    string
	To      string
	Subject string
}

var statusColors = map[string]string{
	"ok":        "#a0e0a0",
	"fail":      "#f08080",
	"unknown":   "#f0d080",
	"undefined": "#d0d0d0",
}

var alertHTML = template.Must(template.New("alert").Parse(`<html><body>
<p>{{.Summary}}</p>
<table cellpadding="4" cellspacing="0" border="1">
{{range .Rows}}<tr><td>{{.Name}}</td><td{{if .Color}} bgcolor="{{.Color}}"{{end}}>{{.Value}}</td></tr>
{{end}}</table>
</body></html>
`))

type row struct {
	Name  string
	Value string
	Color string
}

type SMTPNotifier struct {
	logger      *zap.SugaredLogger
	opts        SMTPOptions
	servers     []mailproto.Server
	client      *mailproto.Client
	helo        string
	markUnknown bool
	now         func() time.Time
}

func NewSMTPNotifier(logger *zap.SugaredLogger, so SMTPOptions, opts Options) (*SMTPNotifier, error) {
	if so.To == "" {
		return nil, errors.New("smtp notifier requires recipients")
	}
	if so.From == "" {
		return nil, errors.New("smtp notifier requires a sender")
	}
	if so.Subject == "" {
		so.Subject = DefaultSubject
	}

	mode, port := netline.Plain, mailproto.DefaultSMTPPort
	if so.TLS {
		mode, port = netline.TLS, mailproto.DefaultSMTPSPort
	}
	servers, err := mailproto.ParseServers(so.Servers, port, mode)
	if err != nil {
		return nil, fmt.Errorf("smtp notifier: %w", err)
	}

	return &SMTPNotifier{
		logger:  logger,
		opts:    so,
		servers: servers,
		client: mailproto.NewClient(netline.Options{
			ConnectTimeout: opts.ConnectTimeout,
			IOTimeout:      opts.IOTimeout,
			Trace:          opts.Trace,
			Logger:         logger,
		}, logger),
		helo:        opts.Hostname,
		markUnknown: opts.MarkUnknown,
		now:         time.Now,
	}, nil
}

func (n *SMTPNotifier) SendNotification(ctx context.Context, notification Notification) error {
	rows := detailRows(notification)

	var text strings.Builder
	text.WriteString(BuildMessage(notification) + "\r\n\r\n")
	for _, r := range rows {
		fmt.Fprintf(&text, "%-22s %s\r\n", r.Name+":", r.Value)
	}

	var html bytes.Buffer
	if err := alertHTML.Execute(&html, struct {
		Summary string
		Rows    []row
	}{BuildMessage(notification), rows}); err != nil {
		return fmt.Errorf("rendering alert mail: %w", err)
	}

	env := mailproto.Envelope{From: n.opts.From, To: n.opts.To, Helo: n.helo}
	msg, err := mailproto.Compose(mailproto.Content{
		From:    n.opts.From,
		To:      n.opts.To,
		Subject: notification.Tokens.Expand(n.opts.Subject, n.markUnknown),
		Text:    text.String(),
		HTML:    html.String(),
		Date:    n.now(),
	}, n.helo)
	if err != nil {
		return err
	}

	receipt, err := n.client.SendVia(ctx, n.servers, env, msg)
	if err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}
	n.logger.Debugw("alert mail accepted",
		"alert", notification.Alert,
		"check", notification.Check,
		"server", receipt.Server,
		"queue_id", receipt.QueueID)
	return nil
}

func detailRows(n Notification) []row {
	t := n.Tokens
	return []row{
		{Name: "Check", Value: n.Check},
		{Name: "Host", Value: n.Host},
		{Name: "Status", Value: n.Status, Color: statusColors[n.Status]},
		{Name: "Consecutive failures", Value: t["CONSECUTIVE_NOTOK"]},
		{Name: "Streak started", Value: t["ALERT_TIMESTAMP"]},
		{Name: "Checked at", Value: t["NOW_TIMESTAMP"]},
		{Name: "Alert", Value: n.Alert + " (" + t["ALERT_METHOD"] + ")"},
		{Name: "Sequence", Value: t["ALERT_SEQ"]},
	}
}

func (n *SMTPNotifier) Type() NotificationType {
	return SMTPNotification
}

func (n *SMTPNotifier) Initialize(ctx context.Context) error {
	_ = ctx
	return nil
}

func (n *SMTPNotifier) Close() error {
	return nil
}
