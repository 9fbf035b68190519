package mailer

import (
	"context"
	"fmt"
	"net/smtp"
)

// Sender delivers the email-ownership verification message. Delivery failure
// is never fatal to sign-up; callers log and move on.
type Sender interface {
	SendVerification(ctx context.Context, email, token string) error
}

type SMTPSender struct {
	Host          string
	Port          string
	User          string
	Pass          string
	VerifyBaseURL string
}

// SendVerification mails the verification link. Cancelling ctx only abandons
// the wait; smtp.SendMail has no cancellation hook, so an in-flight send may
// still be delivered.
func (s *SMTPSender) SendVerification(ctx context.Context, email, token string) error {
	link := fmt.Sprintf("%s?token=%s", s.VerifyBaseURL, token)

	msg := []byte("From: " + s.User + "\r\n" +
		"To: " + email + "\r\n" +
		"Subject: Email Verification\r\n" +
		"\r\n" +
		"Please verify your email by clicking the link: " + link + "\r\n")

	auth := smtp.PlainAuth("", s.User, s.Pass, s.Host)
	addr := s.Host + ":" + s.Port

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.User, []string{email}, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
