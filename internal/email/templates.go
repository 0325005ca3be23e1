package email

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/ErlanBelekov/farm-market/internal/domain"
)

var otpTemplate = template.Must(template.New("otp").Parse(
	`<p>Hello {{.Name}},</p>
<p>{{.Intro}}</p>
<p style="font-size:24px;font-weight:bold;letter-spacing:4px">{{.Code}}</p>
<p>The code expires in {{.Minutes}} minutes. If you did not request it, ignore this email.</p>`))

type otpData struct {
	Name    string
	Intro   string
	Code    string
	Minutes int
}

// OTPMessage renders the subject and HTML body for a one-time code email.
func OTPMessage(purpose domain.OTPPurpose, name, code string, minutes int) (subject, body string, err error) {
	data := otpData{Name: name, Code: code, Minutes: minutes}
	switch purpose {
	case domain.PurposeEmailConfirmation:
		subject = "Confirm your Farm Market account"
		data.Intro = "Use this code to confirm your email address:"
	case domain.PurposePasswordReset:
		subject = "Reset your Farm Market password"
		data.Intro = "Use this code to reset your password:"
	default:
		return "", "", fmt.Errorf("no email template for purpose %q", purpose)
	}

	var buf bytes.Buffer
	if err := otpTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render otp email: %w", err)
	}
	return subject, buf.String(), nil
}
