package emails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const brevoAPI = "https://api.brevo.com/v3/smtp/email"

// BrevoSendRequest matches Brevo API v3 send transactional email body.
type BrevoSendRequest struct {
	Sender      BrevoSender   `json:"sender"`
	To          []BrevoTo     `json:"to"`
	Subject     string        `json:"subject"`
	HTMLContent string        `json:"htmlContent"`
	ReplyTo     *BrevoReplyTo `json:"replyTo,omitempty"`
}

type BrevoSender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type BrevoTo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type BrevoReplyTo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// InviteMail is the rendered-content input for one invitation email.
type InviteMail struct {
	To            string
	InviteLink    string
	OrgName       string
	Role          string
	CustomMessage string
	Reminder      bool
	ExpiresAt     time.Time
}

// Sender delivers invitation emails. Nil = no-op (tests, local dev without
// an API key).
type Sender interface {
	SendInvite(ctx context.Context, m InviteMail) error
}

// BrevoClient sends emails via the Brevo (Sendinblue) API.
// Env: SENDINBLUE_API_KEY, MAIL_FROM.
// One instance is shared by concurrent batch workers, so fields are never
// written after construction; use NewBrevoClient or set Client up front.
type BrevoClient struct {
	APIKey   string
	MailFrom string
	Client   *http.Client
}

// NewBrevoClient builds a client with the default HTTP timeout.
func NewBrevoClient(apiKey, mailFrom string) *BrevoClient {
	return &BrevoClient{
		APIKey:   apiKey,
		MailFrom: mailFrom,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *BrevoClient) from() string {
	if c.MailFrom != "" {
		return c.MailFrom
	}
	return "noreply@stratix.io"
}

// SendInvite renders and delivers one invitation (or reminder) email.
func (c *BrevoClient) SendInvite(ctx context.Context, m InviteMail) error {
	if c.APIKey == "" {
		return nil
	}
	subject := fmt.Sprintf("You have been invited to join %s on Stratix", m.OrgName)
	if m.Reminder {
		subject = fmt.Sprintf("Reminder: your invitation to join %s on Stratix", m.OrgName)
	}
	return c.send(ctx, m.To, subject, EmailLayout(invitationContent(m)))
}

// send sends one email via Brevo API.
func (c *BrevoClient) send(ctx context.Context, toEmail, subject, html string) error {
	body := BrevoSendRequest{
		Sender:      BrevoSender{Email: c.from(), Name: "Stratix"},
		To:          []BrevoTo{{Email: toEmail}},
		Subject:     subject,
		HTMLContent: html,
		ReplyTo:     &BrevoReplyTo{Email: "support@stratix.io", Name: "Stratix Support"},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brevoAPI, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send failed: status %d", resp.StatusCode)
	}
	return nil
}

func invitationContent(m InviteMail) string {
	intro := "You have been invited to join your organization on <strong>Stratix</strong>"
	if m.Reminder {
		intro = "This is a reminder of your pending invitation to join your organization on <strong>Stratix</strong>"
	}
	custom := ""
	if m.CustomMessage != "" {
		custom = fmt.Sprintf(`<p style="border-left:3px solid #ddd;padding-left:12px;color:#555;">%s</p>`, EscapeHTML(m.CustomMessage))
	}
	return fmt.Sprintf(`
    <h1>Join %s on Stratix</h1>
    <p>%s as a <strong>%s</strong>.</p>
    %s
    <p>Click the button below to accept your invitation and get started:</p>
    <center>
      <a href="%s" class="stratix-button">Accept Invitation</a>
    </center>
    <p style="margin-top:20px;font-size:14px;color:#666;">
      This invitation link expires on %s. If you were not expecting this invitation, you can safely ignore this email.
    </p>
    <p>— The Stratix Team</p>
`, EscapeHTML(m.OrgName), intro, EscapeHTML(m.Role), custom, m.InviteLink, m.ExpiresAt.Format("January 2, 2006"))
}
