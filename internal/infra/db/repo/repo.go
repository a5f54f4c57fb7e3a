package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/consts"
	"github.com/Builder-Lawyers/billing-backend/internal/application/interfaces"
	domain "github.com/Builder-Lawyers/billing-backend/internal/domain/consts"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	dbs "github.com/Builder-Lawyers/billing-backend/pkg/db"
	shared "github.com/Builder-Lawyers/billing-backend/pkg/interfaces"
	"github.com/jackc/pgx/v5"
)

type WebhookEventRepo struct {
	q dbs.Querier
}

var _ interfaces.WebhookEventRepo = (*WebhookEventRepo)(nil)

func NewWebhookEventRepo(q dbs.Querier) *WebhookEventRepo {
	return &WebhookEventRepo{q: q}
}

// Admit inserts the ledger row. It reports false when the event is already known,
// unless the earlier attempt ended as failed, in which case the row is taken over again.
func (r *WebhookEventRepo) Admit(ctx context.Context, event db.WebhookEvent) (bool, error) {
	var id string
	err := r.q.QueryRow(ctx, `
		INSERT INTO billing.webhook_event_log (provider_event_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_event_id) DO UPDATE
		SET status = EXCLUDED.status,
		    event_type = EXCLUDED.event_type,
		    payload = EXCLUDED.payload,
		    error_message = NULL,
		    processed_at = NULL
		WHERE billing.webhook_event_log.status = $6
		RETURNING provider_event_id`,
		event.ProviderEventID, event.EventType, event.Payload, domain.WebhookStatusReceived, event.CreatedAt,
		domain.WebhookStatusFailed,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("err admitting webhook event, %v", err)
	}
	return true, nil
}

func (r *WebhookEventRepo) MarkProcessed(ctx context.Context, providerEventID string, note *string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE billing.webhook_event_log
		SET status = $2, error_message = $3, processed_at = now()
		WHERE provider_event_id = $1`,
		providerEventID, domain.WebhookStatusProcessed, note)
	if err != nil {
		return fmt.Errorf("err marking webhook event processed, %v", err)
	}
	return nil
}

// MarkFailed writes the row again, the admission rolled back together with the handler.
// A row that a concurrent redelivery already processed is left alone.
func (r *WebhookEventRepo) MarkFailed(ctx context.Context, event db.WebhookEvent, message string) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO billing.webhook_event_log (provider_event_id, event_type, payload, status, error_message, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (provider_event_id) DO UPDATE
		SET status = EXCLUDED.status,
		    error_message = EXCLUDED.error_message,
		    processed_at = EXCLUDED.processed_at
		WHERE billing.webhook_event_log.status <> $7`,
		event.ProviderEventID, event.EventType, event.Payload, domain.WebhookStatusFailed, message, event.CreatedAt,
		domain.WebhookStatusProcessed)
	if err != nil {
		return fmt.Errorf("err marking webhook event failed, %v", err)
	}
	return nil
}

func (r *WebhookEventRepo) Get(ctx context.Context, providerEventID string) (*db.WebhookEvent, error) {
	var event db.WebhookEvent
	err := r.q.QueryRow(ctx, `
		SELECT provider_event_id, event_type, payload, status, error_message, created_at, processed_at
		FROM billing.webhook_event_log WHERE provider_event_id = $1`, providerEventID).
		Scan(&event.ProviderEventID, &event.EventType, &event.Payload, &event.Status, &event.ErrorMessage,
			&event.CreatedAt, &event.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

type SubscriptionRepo struct {
	q dbs.Querier
}

var _ interfaces.SubscriptionRepo = (*SubscriptionRepo)(nil)

func NewSubscriptionRepo(q dbs.Querier) *SubscriptionRepo {
	return &SubscriptionRepo{q: q}
}

const subscriptionColumns = `organization_id, provider_subscription_id, provider_customer_id, plan_id, status,
	current_period_end, last_event_created_at, updated_at`

func scanSubscription(row pgx.Row) (*db.Subscription, error) {
	var sub db.Subscription
	err := row.Scan(&sub.OrganizationID, &sub.ProviderSubscriptionID, &sub.ProviderCustomerID, &sub.PlanID,
		&sub.Status, &sub.CurrentPeriodEnd, &sub.LastEventCreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// GetForUpdate locks the row until the surrounding transaction ends. Returns nil when absent.
func (r *SubscriptionRepo) GetForUpdate(ctx context.Context, providerSubscriptionID string) (*db.Subscription, error) {
	sub, err := scanSubscription(r.q.QueryRow(ctx, "SELECT "+subscriptionColumns+
		" FROM billing.subscriptions WHERE provider_subscription_id = $1 FOR UPDATE", providerSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("err locking subscription, %v", err)
	}
	return sub, nil
}

func (r *SubscriptionRepo) Get(ctx context.Context, providerSubscriptionID string) (*db.Subscription, error) {
	sub, err := scanSubscription(r.q.QueryRow(ctx, "SELECT "+subscriptionColumns+
		" FROM billing.subscriptions WHERE provider_subscription_id = $1", providerSubscriptionID))
	if err != nil {
		return nil, fmt.Errorf("err getting subscription, %v", err)
	}
	return sub, nil
}

func (r *SubscriptionRepo) GetOrganizationID(ctx context.Context, providerSubscriptionID string) (string, error) {
	var orgID string
	err := r.q.QueryRow(ctx, "SELECT organization_id FROM billing.subscriptions WHERE provider_subscription_id = $1",
		providerSubscriptionID).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("err finding subscription organization, %v", err)
	}
	return orgID, nil
}

// Upsert never moves last_event_created_at backwards; it reports whether a row was written.
func (r *SubscriptionRepo) Upsert(ctx context.Context, sub db.Subscription) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		INSERT INTO billing.subscriptions (organization_id, provider_subscription_id, provider_customer_id, plan_id,
			status, current_period_end, last_event_created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (provider_subscription_id) DO UPDATE
		SET organization_id = EXCLUDED.organization_id,
		    provider_customer_id = COALESCE(NULLIF(EXCLUDED.provider_customer_id, ''), billing.subscriptions.provider_customer_id),
		    plan_id = EXCLUDED.plan_id,
		    status = EXCLUDED.status,
		    current_period_end = COALESCE(EXCLUDED.current_period_end, billing.subscriptions.current_period_end),
		    last_event_created_at = EXCLUDED.last_event_created_at,
		    updated_at = now()
		WHERE billing.subscriptions.last_event_created_at <= EXCLUDED.last_event_created_at`,
		sub.OrganizationID, sub.ProviderSubscriptionID, sub.ProviderCustomerID, sub.PlanID, sub.Status,
		sub.CurrentPeriodEnd, sub.LastEventCreatedAt)
	if err != nil {
		return false, fmt.Errorf("err upserting subscription, %v", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PushPeriodEnd only ever extends current_period_end.
func (r *SubscriptionRepo) PushPeriodEnd(ctx context.Context, providerSubscriptionID string, periodEnd, eventCreatedAt time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE billing.subscriptions
		SET current_period_end = GREATEST(COALESCE(current_period_end, $2), $2),
		    last_event_created_at = $3,
		    updated_at = now()
		WHERE provider_subscription_id = $1 AND last_event_created_at <= $3`,
		providerSubscriptionID, periodEnd, eventCreatedAt)
	if err != nil {
		return false, fmt.Errorf("err updating subscription period end, %v", err)
	}
	return tag.RowsAffected() > 0, nil
}

type CustomerRepo struct {
	q dbs.Querier
}

var _ interfaces.CustomerRepo = (*CustomerRepo)(nil)

func NewCustomerRepo(q dbs.Querier) *CustomerRepo {
	return &CustomerRepo{q: q}
}

// Upsert keeps one row per organization, a blank email never overwrites a known one.
func (r *CustomerRepo) Upsert(ctx context.Context, customer db.Customer) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO billing.customers (organization_id, provider_customer_id, email, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (organization_id) DO UPDATE
		SET provider_customer_id = EXCLUDED.provider_customer_id,
		    email = COALESCE(NULLIF(EXCLUDED.email, ''), billing.customers.email),
		    updated_at = now()`,
		customer.OrganizationID, customer.ProviderCustomerID, customer.Email)
	if err != nil {
		return fmt.Errorf("err upserting customer, %v", err)
	}
	return nil
}

func (r *CustomerRepo) GetOrganizationID(ctx context.Context, providerCustomerID string) (string, error) {
	var orgID string
	err := r.q.QueryRow(ctx, `
		SELECT organization_id FROM billing.customers
		WHERE provider_customer_id = $1
		ORDER BY updated_at DESC LIMIT 1`, providerCustomerID).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("err finding customer organization, %v", err)
	}
	return orgID, nil
}

func (r *CustomerRepo) GetByOrganizationID(ctx context.Context, organizationID string) (*db.Customer, error) {
	var customer db.Customer
	err := r.q.QueryRow(ctx, `
		SELECT organization_id, provider_customer_id, email FROM billing.customers WHERE organization_id = $1`,
		organizationID).Scan(&customer.OrganizationID, &customer.ProviderCustomerID, &customer.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("err getting customer, %v", err)
	}
	return &customer, nil
}

type InvoiceRepo struct {
	q dbs.Querier
}

var _ interfaces.InvoiceRepo = (*InvoiceRepo)(nil)

func NewInvoiceRepo(q dbs.Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

func (r *InvoiceRepo) Upsert(ctx context.Context, invoice db.Invoice) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO billing.billing_invoices (organization_id, provider_invoice_id, amount_due, amount_paid, currency,
			status, period_start, period_end, billing_reason, hosted_invoice_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (provider_invoice_id) DO UPDATE
		SET organization_id = EXCLUDED.organization_id,
		    amount_due = EXCLUDED.amount_due,
		    amount_paid = EXCLUDED.amount_paid,
		    currency = EXCLUDED.currency,
		    status = EXCLUDED.status,
		    period_start = EXCLUDED.period_start,
		    period_end = EXCLUDED.period_end,
		    billing_reason = EXCLUDED.billing_reason,
		    hosted_invoice_url = EXCLUDED.hosted_invoice_url,
		    updated_at = now()`,
		invoice.OrganizationID, invoice.ProviderInvoiceID, invoice.AmountDue, invoice.AmountPaid, invoice.Currency,
		invoice.Status, invoice.PeriodStart, invoice.PeriodEnd, invoice.BillingReason, invoice.HostedInvoiceURL)
	if err != nil {
		return fmt.Errorf("err upserting invoice, %v", err)
	}
	return nil
}

func (r *InvoiceRepo) Get(ctx context.Context, providerInvoiceID string) (*db.Invoice, error) {
	var invoice db.Invoice
	err := r.q.QueryRow(ctx, `
		SELECT organization_id, provider_invoice_id, amount_due, amount_paid, currency, status, period_start,
			period_end, billing_reason, hosted_invoice_url
		FROM billing.billing_invoices WHERE provider_invoice_id = $1`, providerInvoiceID).
		Scan(&invoice.OrganizationID, &invoice.ProviderInvoiceID, &invoice.AmountDue, &invoice.AmountPaid,
			&invoice.Currency, &invoice.Status, &invoice.PeriodStart, &invoice.PeriodEnd, &invoice.BillingReason,
			&invoice.HostedInvoiceURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("err getting invoice, %v", err)
	}
	return &invoice, nil
}

type NotificationRepo struct {
	q dbs.Querier
}

var _ interfaces.NotificationRepo = (*NotificationRepo)(nil)

func NewNotificationRepo(q dbs.Querier) *NotificationRepo {
	return &NotificationRepo{q: q}
}

func (r *NotificationRepo) Insert(ctx context.Context, notification db.Notification) error {
	payload := notification.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO billing.billing_notifications (id, organization_id, type, title, message, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		notification.ID, notification.OrganizationID, notification.Type, notification.Title, notification.Message,
		payload, notification.CreatedAt)
	if err != nil {
		return fmt.Errorf("err inserting notification, %v", err)
	}
	return nil
}

func (r *NotificationRepo) ListByOrganization(ctx context.Context, organizationID string) ([]db.Notification, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, organization_id, type, title, message, payload, created_at
		FROM billing.billing_notifications WHERE organization_id = $1 ORDER BY created_at`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("err listing notifications, %v", err)
	}
	defer rows.Close()

	notifications := make([]db.Notification, 0)
	for rows.Next() {
		var n db.Notification
		if err = rows.Scan(&n.ID, &n.OrganizationID, &n.Type, &n.Title, &n.Message, &n.Payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

type EventRepo struct {
	q dbs.Querier
}

var _ interfaces.EventRepo = (*EventRepo)(nil)

func NewEventRepo(q dbs.Querier) *EventRepo {
	return &EventRepo{q: q}
}

func (e *EventRepo) InsertEvent(ctx context.Context, event shared.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("err marshalling event payload, %v", err)
	}
	outbox := db.Outbox{
		Event:     event.GetType(),
		Status:    consts.NotProcessed,
		Payload:   json.RawMessage(payload),
		CreatedAt: time.Now(),
	}
	_, err = e.q.Exec(ctx, "INSERT INTO billing.outbox (event, status, payload, created_at) VALUES ($1,$2,$3,$4)",
		outbox.Event, outbox.Status, outbox.Payload, outbox.CreatedAt)
	if err != nil {
		return fmt.Errorf("err inserting a new event, %v", err)
	}

	return nil
}

type MailRepo struct {
	q dbs.Querier
}

var _ interfaces.MailRepo = (*MailRepo)(nil)

func NewMailRepo(q dbs.Querier) *MailRepo {
	return &MailRepo{q: q}
}

func (r *MailRepo) InsertMail(ctx context.Context, mail db.Mail) error {
	_, err := r.q.Exec(ctx, "INSERT INTO billing.mails (type, recipients, subject, content, sent_at) VALUES ($1,$2,$3,$4,$5)",
		mail.MailType, mail.Recipients, mail.Subject, mail.Content, mail.SentAt)
	if err != nil {
		return fmt.Errorf("err inserting mail, %v", err)
	}
	return nil
}

// Store groups the repos bound to one querier, usually the per-event transaction.
func NewStore(q dbs.Querier) interfaces.Store {
	return interfaces.Store{
		Events:        NewWebhookEventRepo(q),
		Subscriptions: NewSubscriptionRepo(q),
		Customers:     NewCustomerRepo(q),
		Invoices:      NewInvoiceRepo(q),
		Notifications: NewNotificationRepo(q),
		Outbox:        NewEventRepo(q),
	}
}
