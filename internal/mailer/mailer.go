package mailer

import "gopkg.in/gomail.v2"

type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
}

var subjects = map[string]string{
	"email_verification": "Verify your email address",
	"password_reset":     "Reset your password",
}

// Send delivers a single link email. The purpose selects the subject line.
func (m *Mailer) Send(to, link, purpose string) error {
	subject, ok := subjects[purpose]
	if !ok {
		subject = "Notification"
	}

	msg := gomail.NewMessage()
	msg.SetHeader("To", to)
	msg.SetHeader("From", m.Username)
	msg.SetHeader("Subject", subject)

	msg.SetBody("text/plain", link)

	dialer := gomail.NewDialer(m.Host, m.Port, m.Username, m.Password)
	return dialer.DialAndSend(msg)
}
