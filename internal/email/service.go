// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		s.fromHeader(),
		headerSafe(subject),
		body,
	))

	return s.sendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email with a plain-text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	boundary := "boundary-codex"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.sendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// headerSafe drops line breaks so user text cannot add headers.
func headerSafe(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

// SubmissionNoticeData feeds the approval and rejection templates.
type SubmissionNoticeData struct {
	AppName       string
	SubmitterName string
	EntryName     string
	EntryURL      string
	Reason        string
	AdminNotes    string
}

// SendSubmissionApproved tells a submitter their suggestion was published.
func (s *Service) SendSubmissionApproved(to string, data SubmissionNoticeData) error {
	data.AppName = "Codex"
	html, err := renderTemplate(approvedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render approved template: %w", err)
	}
	text := fmt.Sprintf("Your submission for %q was approved: %s", data.EntryName, data.EntryURL)
	if data.AdminNotes != "" {
		text += "\n\nNotes from the reviewer: " + data.AdminNotes
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("Your submission for %s was approved", data.EntryName), text, html)
}

// SendSubmissionRejected tells a submitter why their suggestion was declined.
func (s *Service) SendSubmissionRejected(to string, data SubmissionNoticeData) error {
	data.AppName = "Codex"
	html, err := renderTemplate(rejectedEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render rejected template: %w", err)
	}
	text := fmt.Sprintf("Your submission for %q was not accepted.\n\nReason: %s", data.EntryName, data.Reason)
	if data.AdminNotes != "" {
		text += "\n\nNotes from the reviewer: " + data.AdminNotes
	}
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("Your submission for %s was not accepted", data.EntryName), text, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .notes { background: #f5f5f5; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }`

const approvedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Submission approved</title>
    <style>` + emailStyle + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{if .SubmitterName}}{{.SubmitterName}}{{else}}there{{end}},</p>

    <p>Your submission for <strong>{{.EntryName}}</strong> has been approved and is now live.</p>

    <p>
        <a href="{{.EntryURL}}" class="button">View entry</a>
    </p>
    {{if .AdminNotes}}
    <div class="notes">
        <strong>Notes from the reviewer:</strong> {{.AdminNotes}}
    </div>
    {{end}}
    <div class="footer">
        <p>Thanks for helping keep the glossary accurate.</p>
    </div>
</body>
</html>`

const rejectedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Submission not accepted</title>
    <style>` + emailStyle + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{if .SubmitterName}}{{.SubmitterName}}{{else}}there{{end}},</p>

    <p>Your submission for <strong>{{.EntryName}}</strong> was reviewed and not accepted.</p>

    <div class="notes">
        <strong>Reason:</strong> {{.Reason}}
    </div>
    {{if .AdminNotes}}
    <p>Notes from the reviewer: {{.AdminNotes}}</p>
    {{end}}
    <div class="footer">
        <p>You are welcome to submit a revised suggestion.</p>
    </div>
</body>
</html>`
