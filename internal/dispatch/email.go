package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	mqcontracts "medreminder/contracts/mq"
	"medreminder/pkg/config"
)

// mailClient 由 *mail.Client 实现
type mailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailSender 通过 SMTP 发送邮件
type EmailSender struct {
	client mailClient
	from   string
	logger *zap.Logger
}

// NewEmailSender 根据 SMTP 配置创建发送器
func NewEmailSender(cfg config.SMTPConfig, logger *zap.Logger) (*EmailSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	return &EmailSender{client: client, from: cfg.From, logger: logger}, nil
}

func (s *EmailSender) Channel() string { return mqcontracts.ChannelEmail }

// Deliver 发送一封邮件，HTML 作为备选正文
func (s *EmailSender) Deliver(ctx context.Context, p mqcontracts.ReminderDispatchPayload) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(p.To...); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(p.Subject)
	m.SetMessageIDWithValue(p.MessageID)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, p.Text)
	if p.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, p.HTML)
	}

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email %s: %w", p.MessageID, err)
	}

	s.logger.Info("Email sent",
		zap.String("message_id", p.MessageID),
		zap.Int("recipients", len(p.To)),
		zap.String("kind", p.Kind),
	)
	return nil
}
