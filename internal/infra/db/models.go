package db

import (
	"encoding/json"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/consts"
	domain "github.com/Builder-Lawyers/billing-backend/internal/domain/consts"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/mail"
	"github.com/google/uuid"
)

type WebhookEvent struct {
	ProviderEventID string               `db:"provider_event_id"`
	EventType       string               `db:"event_type"`
	Payload         []byte               `db:"payload"`
	Status          domain.WebhookStatus `db:"status"`
	ErrorMessage    *string              `db:"error_message"`
	CreatedAt       time.Time            `db:"created_at"`
	ProcessedAt     *time.Time           `db:"processed_at"`
}

type Subscription struct {
	OrganizationID         string     `db:"organization_id"`
	ProviderSubscriptionID string     `db:"provider_subscription_id"`
	ProviderCustomerID     string     `db:"provider_customer_id"`
	PlanID                 string     `db:"plan_id"`
	Status                 string     `db:"status"`
	CurrentPeriodEnd       *time.Time `db:"current_period_end"`
	LastEventCreatedAt     time.Time  `db:"last_event_created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

type Customer struct {
	OrganizationID     string `db:"organization_id"`
	ProviderCustomerID string `db:"provider_customer_id"`
	Email              string `db:"email"`
}

type Invoice struct {
	OrganizationID    string               `db:"organization_id"`
	ProviderInvoiceID string               `db:"provider_invoice_id"`
	AmountDue         int64                `db:"amount_due"`
	AmountPaid        *int64               `db:"amount_paid"`
	Currency          string               `db:"currency"`
	Status            domain.InvoiceStatus `db:"status"`
	PeriodStart       *time.Time           `db:"period_start"`
	PeriodEnd         *time.Time           `db:"period_end"`
	BillingReason     *string              `db:"billing_reason"`
	HostedInvoiceURL  *string              `db:"hosted_invoice_url"`
}

type Notification struct {
	ID             uuid.UUID               `db:"id"`
	OrganizationID string                  `db:"organization_id"`
	Type           domain.NotificationType `db:"type"`
	Title          string                  `db:"title"`
	Message        string                  `db:"message"`
	Payload        json.RawMessage         `db:"payload"`
	CreatedAt      time.Time               `db:"created_at"`
}

type Outbox struct {
	ID        uint64              `db:"id"`
	Event     string              `db:"event"`
	Status    consts.OutboxStatus `db:"status"`
	Payload   json.RawMessage     `db:"payload"`
	Attempts  int                 `db:"attempts"`
	CreatedAt time.Time           `db:"created_at"`
}

type Mail struct {
	ID         uint64        `db:"id"`
	MailType   mail.MailType `db:"type"`
	Recipients string        `db:"recipients"`
	Subject    string        `db:"subject"`
	Content    string        `db:"content"`
	SentAt     time.Time     `db:"sent_at"`
}
