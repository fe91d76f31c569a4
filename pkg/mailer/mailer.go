package mailer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"review-portal/backend/config"
)

// Recipient 收件人
type Recipient struct {
	Name  string
	Email string
}

// Message 一封邮件；HTML 为空时只发送纯文本
type Message struct {
	To      []Recipient
	Subject string
	Text    string
	HTML    string
}

// Mailer SendGrid 邮件发送
// 未配置 API Key 时只记录日志，不发送
type Mailer struct {
	client     *sendgrid.Client
	from       *sgmail.Email
	subjPrefix string
	logger     *zap.Logger
}

// New 创建 Mailer
func New(cfg *config.MailConfig, logger *zap.Logger) *Mailer {
	m := &Mailer{
		from:       sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		subjPrefix: "[" + cfg.FromName + "] ",
		logger:     logger,
	}
	if cfg.SendGridAPIKey != "" {
		m.client = sendgrid.NewSendClient(cfg.SendGridAPIKey)
	}
	return m
}

// Enabled 是否配置了 SendGrid
func (m *Mailer) Enabled() bool {
	return m.client != nil
}

// Send 发送邮件；4xx/5xx 视为失败
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	if !m.Enabled() {
		m.logger.Info("邮件未发送（未配置 SendGrid）",
			zap.String("subject", msg.Subject),
			zap.Int("recipients", len(msg.To)),
		)
		return nil
	}

	res, err := m.client.SendWithContext(ctx, m.prepare(msg))
	if err != nil {
		return fmt.Errorf("SendGrid 请求失败: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("SendGrid 返回状态 %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (m *Mailer) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + msg.Subject
	for _, to := range msg.To {
		p.AddTos(sgmail.NewEmail(to.Name, to.Email))
	}

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Text))
	if msg.HTML != "" {
		v3.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}
	return v3
}

