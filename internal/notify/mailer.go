package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// InviteEmail contains everything needed to send an invitation email.
// AcceptURL embeds the invitation token; it goes into the email body only and
// must never be logged.
type InviteEmail struct {
	To            string
	CompanyName   string
	ProjectName   string
	InviterEmail  string
	CustomMessage string
	AcceptURL     string
	ExpiresAt     time.Time
}

// Mailer delivers transactional email through the configured email API.
type Mailer struct {
	apiURL     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewMailer creates a new mailer with the specified timeout.
// An empty apiURL disables delivery (useful in dev and tests).
func NewMailer(apiURL string, timeoutMS int) *Mailer {
	timeout := time.Duration(timeoutMS) * time.Millisecond
	return &Mailer{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// SendInvite sends an invitation email. Delivery is best-effort: this method
// never returns an error, all failures are logged at WARN level, and the
// returned flag tells the caller whether the message was handed off so the
// invitation can be resent later.
func (m *Mailer) SendInvite(ctx context.Context, msg InviteEmail) bool {
	if m.apiURL == "" {
		log.Warn().Str("to", msg.To).Msg("Email delivery disabled, invitation email not sent")
		return false
	}

	payload := emailPayload{
		To:      msg.To,
		Subject: m.buildSubject(msg),
		Text:    m.buildBody(msg),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("to", msg.To).Msg("Failed to marshal email payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Warn().Err(err).Str("to", msg.To).Msg("Failed to create email request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			log.Warn().Err(err).Dur("timeout", m.timeout).Str("to", msg.To).Msg("Email dispatch timed out")
		} else {
			log.Warn().Err(err).Str("to", msg.To).Msg("Failed to dispatch email")
		}
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn().Int("status_code", resp.StatusCode).Str("to", msg.To).Msg("Email API returned non-success status")
		return false
	}

	log.Info().Str("to", msg.To).Str("company", msg.CompanyName).Msg("Invitation email dispatched")
	return true
}

func (m *Mailer) buildSubject(msg InviteEmail) string {
	if msg.ProjectName != "" {
		return fmt.Sprintf("You've been invited to %s on %s", msg.ProjectName, msg.CompanyName)
	}
	return fmt.Sprintf("You've been invited to join %s", msg.CompanyName)
}

func (m *Mailer) buildBody(msg InviteEmail) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "%s has invited you to join %s", msg.InviterEmail, msg.CompanyName)
	if msg.ProjectName != "" {
		fmt.Fprintf(&buf, " on the project %q", msg.ProjectName)
	}
	buf.WriteString(".\n\n")

	if msg.CustomMessage != "" {
		fmt.Fprintf(&buf, "%s\n\n", msg.CustomMessage)
	}

	fmt.Fprintf(&buf, "Accept the invitation:\n%s\n\n", msg.AcceptURL)
	fmt.Fprintf(&buf, "This invitation expires on %s.\n", msg.ExpiresAt.Format("January 2, 2006"))

	return buf.String()
}
