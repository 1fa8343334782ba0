package feedback

import (
	"bytes"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"

	"github.com/TeacherLi07/essayhelper/internal/config"
)

// emailTmpl escapes user content on the way into the HTML body.
var emailTmpl = template.Must(template.New("feedback").Parse(`<html><body>
<h3>EssayHelper 收到新反馈</h3>
<p><b>时间：</b>{{.ReceivedAt.Format "2006-01-02 15:04:05"}}</p>
<p><b>联系方式：</b>{{if .Contact}}{{.Contact}}{{else}}未留{{end}}</p>
<p><b>内容：</b></p>
<blockquote>{{.Content}}</blockquote>
</body></html>`))

func renderEmail(rec Record) (string, error) {
	var buf bytes.Buffer
	if err := emailTmpl.Execute(&buf, rec); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SMTPMailer sends notifications through a plain-auth SMTP relay.
type SMTPMailer struct {
	addr     string
	auth     smtp.Auth
	from     string
	nickname string
	to       string

	// sendMail is smtp.SendMail, substituted in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer builds a mailer from configuration.
func NewSMTPMailer(cfg config.FeedbackConfig) *SMTPMailer {
	return &SMTPMailer{
		addr:     fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth:     smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost),
		from:     cfg.Username,
		nickname: cfg.SenderNickname,
		to:       cfg.AdminEmail,
		sendMail: smtp.SendMail,
	}
}

// Send delivers one HTML email.
func (m *SMTPMailer) Send(subject, htmlBody string) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n",
		mime.QEncoding.Encode("UTF-8", m.nickname), m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", m.to)
	fmt.Fprintf(&msg, "Subject: %s\r\n",
		mime.QEncoding.Encode("UTF-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	if err := m.sendMail(m.addr, m.auth, m.from, []string{m.to}, msg.Bytes()); err != nil {
		return fmt.Errorf("send feedback email: %w", err)
	}
	return nil
}
