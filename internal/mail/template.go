package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/MrEthical07/identity"
)

// ResetSubject is the subject line of the password reset email.
const ResetSubject = "Password Reset Request"

const expiryLayout = "2006-01-02 15:04:05"

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0"/>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; background-color: #f5f5f5; margin: 0; padding: 0; }
    .container { max-width: 600px; margin: 20px auto; background-color: #f9f9f9; border-radius: 6px; overflow: hidden; }
    .header { text-align: center; padding: 25px 0; background: #0062E6; color: white; }
    .content { background-color: white; padding: 40px; }
    .button { display: inline-block; background: #0062E6; color: white; text-decoration: none; padding: 12px 30px; border-radius: 50px; }
    .reset-link { margin-top: 20px; padding: 15px; background-color: #f8f9fa; word-break: break-all; }
    .expiry-notice { margin-top: 20px; padding: 10px 15px; background-color: #fff4e5; border-left: 4px solid #ffa726; color: #666; }
    .footer { text-align: center; padding: 20px; color: #666; font-size: 12px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header"><h2>{{.Subject}}</h2></div>
    <div class="content">
      <h3>Hello {{.Name}},</h3>
      <p>We received a request to reset your password for your account. If you didn't make this request, you can safely ignore this email.</p>
      <p style="text-align:center"><a href="{{.Link}}" class="button">Reset Your Password</a></p>
      <p>If the button above doesn't work, copy and paste the following link into your browser:</p>
      <div class="reset-link"><a href="{{.Link}}">{{.Link}}</a></div>
      <div class="expiry-notice"><p><strong>Note:</strong> This link will expire on {{.Expiry}}.</p></div>
      <p>Best regards,<br/><strong>{{.Team}}</strong></p>
    </div>
    <div class="footer">
      <p>&copy; {{.Year}} {{.Company}}. All rights reserved.</p>
      <p>This is an automated message, please do not reply to this email.</p>
    </div>
  </div>
</body>
</html>
`))

// Renderer renders the password reset email with html/template, which
// escapes the name and the link.
type Renderer struct {
	Company string
	Team    string
	now     func() time.Time
}

func NewRenderer(company, team string) *Renderer {
	if company == "" {
		company = "Your Company"
	}
	if team == "" {
		team = "Your Application Team"
	}
	return &Renderer{Company: company, Team: team, now: time.Now}
}

func (r *Renderer) RenderResetEmail(data identity.ResetEmail) (string, string, error) {
	name := data.FirstName
	if name == "" {
		name = data.Recipient
	}
	now := time.Now
	if r.now != nil {
		now = r.now
	}

	var buf bytes.Buffer
	err := resetTemplate.Execute(&buf, struct {
		Subject string
		Name    string
		Link    string
		Expiry  string
		Year    int
		Company string
		Team    string
	}{
		Subject: ResetSubject,
		Name:    name,
		Link:    data.Link,
		Expiry:  data.ExpiresAt.Format(expiryLayout),
		Year:    now().Year(),
		Company: r.Company,
		Team:    r.Team,
	})
	if err != nil {
		return "", "", fmt.Errorf("render reset email: %w", err)
	}
	return ResetSubject, buf.String(), nil
}
