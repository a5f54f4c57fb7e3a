package mail

import (
	"github.com/Builder-Lawyers/billing-backend/pkg/env"
)

type MailConfig struct {
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	From     string
}

func NewMailConfig() *MailConfig {
	username := env.GetEnv("MAIL_USERNAME", "")
	return &MailConfig{
		SMTPHost: env.GetEnv("MAIL_HOST", ""),
		SMTPPort: env.GetEnv("MAIL_PORT", "587"),
		Username: username,
		Password: env.GetEnv("MAIL_PASSWORD", ""),
		From:     env.GetEnv("MAIL_FROM", username),
	}
}

func (c *MailConfig) Enabled() bool {
	return c.SMTPHost != ""
}
