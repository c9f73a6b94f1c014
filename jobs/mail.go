package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"gopkg.in/gomail.v2"

	jobmetrics "github.com/teamaccess/team-access-manager/internal/jobs"
)

// SMTPConfig holds the outbound mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, payload SendEmailPayload) error
}

// SMTPSender delivers mail through an SMTP relay using gomail.
type SMTPSender struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPSender builds a sender. An empty host yields a sender that only logs,
// which is what local and test environments run with.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	s := &SMTPSender{cfg: cfg}
	if cfg.Host != "" {
		s.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return s
}

// Message renders the payload into a gomail message.
func (s *SMTPSender) Message(payload SendEmailPayload) *gomail.Message {
	m := gomail.NewMessage()
	if s.cfg.FromName != "" {
		m.SetAddressHeader("From", s.cfg.From, s.cfg.FromName)
	} else {
		m.SetHeader("From", s.cfg.From)
	}
	m.SetHeader("To", payload.To)
	m.SetHeader("Subject", payload.Subject)
	m.SetBody("text/plain", payload.Body)
	return m
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, payload SendEmailPayload) error {
	if s.dialer == nil {
		slog.Default().InfoContext(ctx, "smtp disabled, dropping mail", slog.String("to", payload.To), slog.String("subject", payload.Subject))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(s.Message(payload)); err != nil {
		return fmt.Errorf("send mail to %s: %w", payload.To, err)
	}
	return nil
}

// MailJob handles mail:send tasks.
type MailJob struct {
	Sender  Sender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMailJob wires the mail handler.
func NewMailJob(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailJob {
	return &MailJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle processes TaskTypeSendEmail tasks.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sender == nil {
		return errors.New("mail job: sender not configured")
	}
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.To == "" {
		return fmt.Errorf("mail job: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	defer func() { err = tracker.End(err) }()

	if err = j.Sender.Send(ctx, payload); err != nil {
		jobLogger(j.Logger, TaskTypeSendEmail).Warn("deliver mail", slog.String("to", payload.To), slog.Any("error", err))
		return err
	}
	j.Metrics.AddItems(TaskTypeSendEmail, 1)
	return nil
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
