package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// LogSender records notifications in the log. It stands in for push delivery.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification sent", "event", n.Event, "task", n.Task.ID, "title", n.Task.Title)
	return nil
}

// SMTPSender emails the assignee. Tasks without an assignee are skipped.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// SendMail defaults to smtp.SendMail, which upgrades to STARTTLS when offered.
	SendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, n Notification) error {
	if n.Task.AssigneeEmail == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	send := s.SendMail
	if send == nil {
		send = smtp.SendMail
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	to := *n.Task.AssigneeEmail
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	if err := send(addr, auth, s.From, []string{to}, Message(s.From, to, n)); err != nil {
		return fmt.Errorf("failed to email %s: %w", to, err)
	}
	return nil
}

// Message renders the email for n.
func Message(from, to string, n Notification) []byte {
	status := "Pending"
	if n.Task.Completed {
		status = "Completed"
	}
	due := "none"
	if n.Task.DueDate != nil {
		due = *n.Task.DueDate
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Task Update - %s\r\n", oneLine(n.Task.Title))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "Task Update (%s):\r\n\r\n", n.Event)
	fmt.Fprintf(&b, "Task ID: %d\r\n", n.Task.ID)
	fmt.Fprintf(&b, "Title: %s\r\n", oneLine(n.Task.Title))
	fmt.Fprintf(&b, "Status: %s\r\n", status)
	fmt.Fprintf(&b, "Due Date: %s\r\n", due)
	fmt.Fprintf(&b, "Assignee: %s\r\n", to)
	return b.Bytes()
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
