package infra

import (
	"context"
	"fmt"
	"net/smtp"
	"time"
)

// EmailNotifier sends operator alerts over SMTP. Plain net/smtp: the
// message is a one-line plaintext alert to a fixed recipient, nothing a
// mail library would earn its keep for.
type EmailNotifier struct {
	host, port, username, password, from, to string
}

// NewEmailNotifier constructs a notifier from SMTP settings. A blank host
// disables sending (Notify becomes a no-op), which lets paper-mode runs
// skip configuring real credentials.
func NewEmailNotifier(host string, port int, username, password, from, to string) *EmailNotifier {
	return &EmailNotifier{
		host:     host,
		port:     fmt.Sprintf("%d", port),
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

// Notify sends subject/body as a plaintext email. A send timeout of 10s
// bounds how long a breaker-trip notification can block the caller.
func (n *EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	if n.host == "" {
		return nil
	}

	msg := fmt.Sprintf("To: %s\r\nFrom: %s\r\nSubject: %s\r\n\r\n%s\r\n", n.to, n.from, subject, body)

	done := make(chan error, 1)
	go func() {
		auth := smtp.PlainAuth("", n.username, n.password, n.host)
		done <- smtp.SendMail(n.host+":"+n.port, auth, n.from, []string{n.to}, []byte(msg))
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		return fmt.Errorf("smtp send timed out")
	}
}
