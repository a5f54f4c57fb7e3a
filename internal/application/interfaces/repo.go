package interfaces

import (
	"context"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	"github.com/Builder-Lawyers/billing-backend/pkg/interfaces"
)

type WebhookEventRepo interface {
	Admit(ctx context.Context, event db.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, providerEventID string, note *string) error
	MarkFailed(ctx context.Context, event db.WebhookEvent, message string) error
	Get(ctx context.Context, providerEventID string) (*db.WebhookEvent, error)
}

type SubscriptionRepo interface {
	GetForUpdate(ctx context.Context, providerSubscriptionID string) (*db.Subscription, error)
	Get(ctx context.Context, providerSubscriptionID string) (*db.Subscription, error)
	GetOrganizationID(ctx context.Context, providerSubscriptionID string) (string, error)
	Upsert(ctx context.Context, sub db.Subscription) (bool, error)
	PushPeriodEnd(ctx context.Context, providerSubscriptionID string, periodEnd, eventCreatedAt time.Time) (bool, error)
}

type CustomerRepo interface {
	Upsert(ctx context.Context, customer db.Customer) error
	GetOrganizationID(ctx context.Context, providerCustomerID string) (string, error)
	GetByOrganizationID(ctx context.Context, organizationID string) (*db.Customer, error)
}

type InvoiceRepo interface {
	Upsert(ctx context.Context, invoice db.Invoice) error
	Get(ctx context.Context, providerInvoiceID string) (*db.Invoice, error)
}

type NotificationRepo interface {
	Insert(ctx context.Context, notification db.Notification) error
	ListByOrganization(ctx context.Context, organizationID string) ([]db.Notification, error)
}

type EventRepo interface {
	InsertEvent(ctx context.Context, event interfaces.Event) error
}

type MailRepo interface {
	InsertMail(ctx context.Context, mail db.Mail) error
}

// Store is the set of repos sharing one transaction.
type Store struct {
	Events        WebhookEventRepo
	Subscriptions SubscriptionRepo
	Customers     CustomerRepo
	Invoices      InvoiceRepo
	Notifications NotificationRepo
	Outbox        EventRepo
}
