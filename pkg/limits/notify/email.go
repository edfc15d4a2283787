package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig configures an EmailNotifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier mails the alert to the record's notification address. Events whose
// record has email disabled or no address are skipped.
type EmailNotifier struct {
	config SMTPConfig
	send   sendFunc
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(cfg SMTPConfig) (*EmailNotifier, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("email notifier requires host and from address")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailNotifier{config: cfg, send: smtp.SendMail}, nil
}

// Notify implements Notifier.
func (e *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if !event.EmailEnabled || event.NotificationEmail == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.config.Username != "" {
		auth = smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	msg := e.buildMessage(event)
	if err := e.send(addr, auth, e.config.From, []string{event.NotificationEmail}, []byte(msg)); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

func (e *EmailNotifier) buildMessage(event Event) string {
	subject := fmt.Sprintf("Budget alert: %.0f%% of your %s budget used", event.RatioUsed*100, event.Environment)

	var body strings.Builder
	fmt.Fprintf(&body, "Spending for the period starting %s has reached %.1f%% of the monthly budget.\r\n\r\n",
		event.PeriodStart.Format(time.DateOnly), event.RatioUsed*100)
	fmt.Fprintf(&body, "Current spending: %s\r\n", event.CurrentSpending.StringFixed(2))
	if event.MonthlyBudget != nil {
		fmt.Fprintf(&body, "Monthly budget: %s\r\n", event.MonthlyBudget.StringFixed(2))
	}
	fmt.Fprintf(&body, "Alert threshold: %.0f%%\r\n", event.Threshold*100)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", event.NotificationEmail)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	fmt.Fprintf(&msg, "X-Event-ID: %s\r\n", event.ID)
	msg.WriteString("\r\n")
	msg.WriteString(body.String())
	return msg.String()
}
