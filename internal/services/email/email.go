package email

import (
	"context"
	"fmt"
	"html"
	"net/smtp"
	"strings"
)

// EmailService sends fee notifications over SMTP
type EmailService struct {
	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	fromEmail    string
	sendMail     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Config holds SMTP settings
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	FromEmail string
}

// NewEmailService creates a new email service
func NewEmailService(cfg Config) *EmailService {
	from := cfg.FromEmail
	if from == "" {
		from = cfg.Username
	}
	return &EmailService{
		smtpHost:     cfg.Host,
		smtpPort:     cfg.Port,
		smtpUsername: cfg.Username,
		smtpPassword: cfg.Password,
		fromEmail:    from,
		sendMail:     smtp.SendMail,
	}
}

// SendText mails message to toEmail as a fee payment notice
func (s *EmailService) SendText(ctx context.Context, toEmail, message string) error {
	return s.SendTextWithLink(ctx, toEmail, message, "")
}

// SendTextWithLink mails the notice with a receipt download button
func (s *EmailService) SendTextWithLink(ctx context.Context, toEmail, message, receiptURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.SendFeeNotice(toEmail, message, receiptURL)
}

// SendFeeNotice sends the fee payment email, with an optional receipt link
func (s *EmailService) SendFeeNotice(toEmail, message, receiptURL string) error {
	subject := "Fee Payment Confirmation"

	paragraphs := make([]string, 0, 4)
	for _, line := range strings.Split(message, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paragraphs = append(paragraphs, "<p>"+html.EscapeString(line)+"</p>")
		}
	}
	if receiptURL != "" {
		link := html.EscapeString(receiptURL)
		paragraphs = append(paragraphs, fmt.Sprintf(`<p><a href="%s" class="button">Download Receipt</a></p>`, link))
	}

	body := fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<head>
		<style>
			body { font-family: Arial, sans-serif; line-height: 1.6; }
			.container { max-width: 600px; margin: 0 auto; padding: 20px; }
			.header { background-color: #0F766E; color: white; padding: 10px; text-align: center; }
			.content { padding: 20px; }
			.button { display: inline-block; background-color: #0F766E; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px; }
		</style>
	</head>
	<body>
		<div class="container">
			<div class="header">
				<h1>Fee Office</h1>
			</div>
			<div class="content">
				%s
				<p>This is an automated message. Please keep it for your records.</p>
			</div>
		</div>
	</body>
	</html>
	`, strings.Join(paragraphs, "\n\t\t\t\t"))

	return s.sendEmail(toEmail, subject, body)
}

// sendEmail sends an email with HTML content
func (s *EmailService) sendEmail(toEmail, subject, htmlBody string) error {
	if s.smtpHost == "" || s.smtpPort == "" || s.smtpUsername == "" || s.smtpPassword == "" {
		return fmt.Errorf("email service not configured")
	}
	if strings.ContainsAny(toEmail, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	from := fmt.Sprintf("From: Fee Office <%s>\n", s.fromEmail)
	to := fmt.Sprintf("To: %s\n", toEmail)
	subject = fmt.Sprintf("Subject: %s\n", subject)

	message := []byte(from + to + subject + mime + htmlBody)

	auth := smtp.PlainAuth("", s.smtpUsername, s.smtpPassword, s.smtpHost)
	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)

	return s.sendMail(addr, auth, s.fromEmail, []string{toEmail}, message)
}
