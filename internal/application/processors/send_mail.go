package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/application/events"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db/repo"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/mail"
	dbs "github.com/Builder-Lawyers/billing-backend/pkg/db"
	shared "github.com/Builder-Lawyers/billing-backend/pkg/interfaces"
)

type MailSender interface {
	SendMail(to []string, subject, body string) error
}

type SendMail struct {
	sender     MailSender
	uowFactory *dbs.UOWFactory
}

// NewSendMail accepts a nil sender, mails are then dropped with a log line.
func NewSendMail(sender MailSender, uowFactory *dbs.UOWFactory) *SendMail {
	return &SendMail{sender: sender, uowFactory: uowFactory}
}

func (c *SendMail) Handle(ctx context.Context, event events.SendMail) (shared.UoW, error) {
	mailData, err := mapToMailData(event)
	if err != nil {
		return nil, err
	}
	if c.sender == nil {
		slog.Warn("mail transport not configured, dropping mail", "type", mailData.GetMailType(), "organizationID", event.OrganizationID)
		return nil, nil
	}

	body, err := mail.Render(mailData)
	if err != nil {
		return nil, err
	}
	recipients := []string{event.Recipient}
	if err = c.sender.SendMail(recipients, mailData.GetSubject(), body); err != nil {
		return nil, errs.RetryableError{Err: err}
	}

	uow := c.uowFactory.GetUoW()
	tx, err := uow.Begin(ctx)
	if err != nil {
		return nil, err
	}
	err = repo.NewMailRepo(tx).InsertMail(ctx, db.Mail{
		MailType:   mailData.GetMailType(),
		Recipients: event.Recipient,
		Subject:    mailData.GetSubject(),
		Content:    body,
		SentAt:     time.Now(),
	})
	if err != nil {
		_ = uow.Rollback()
		return nil, err
	}

	return uow, nil
}

func mapToMailData(event events.SendMail) (mail.MailData, error) {
	if event.Recipient == "" {
		return nil, fmt.Errorf("mail has no recipient")
	}
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("error mapping to mailData, %v", err)
	}

	switch event.Subject {
	case mail.PaymentFailedData{}.GetSubject():
		var paymentFailed mail.PaymentFailedData
		if err := json.Unmarshal(raw, &paymentFailed); err != nil {
			return nil, fmt.Errorf("error mapping to mailData, %v", err)
		}
		return paymentFailed, nil
	case mail.PaymentSucceededData{}.GetSubject():
		var paymentSucceeded mail.PaymentSucceededData
		if err := json.Unmarshal(raw, &paymentSucceeded); err != nil {
			return nil, fmt.Errorf("error mapping to mailData, %v", err)
		}
		return paymentSucceeded, nil
	}

	return nil, fmt.Errorf("no such mailData type exists")
}
