package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/events"
	"github.com/Builder-Lawyers/billing-backend/internal/application/interfaces"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	domain "github.com/Builder-Lawyers/billing-backend/internal/domain/consts"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/mail"
	"github.com/Builder-Lawyers/billing-backend/pkg/logctx"
	"github.com/google/uuid"
)

type input struct {
	envelope       billingevent.Envelope
	event          billingevent.Event
	organizationID string
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, store interfaces.Store, in input) (Result, error) {
	checkout, ok := in.event.(billingevent.CheckoutSessionCompleted)
	if !ok {
		return "", unexpectedEvent(in)
	}
	log := logctx.From(ctx)

	if checkout.CustomerID != "" {
		err := store.Customers.Upsert(ctx, db.Customer{
			OrganizationID:     in.organizationID,
			ProviderCustomerID: checkout.CustomerID,
			Email:              checkout.CustomerEmail,
		})
		if err != nil {
			return "", err
		}
	}
	if checkout.SubscriptionID == "" {
		return ResultProcessed, nil
	}

	sub, err := p.lookup.FetchSubscription(ctx, checkout.SubscriptionID)
	if err != nil {
		return "", err
	}
	if sub == nil {
		log.Warn("checkout subscription is unknown to the provider", "subscriptionID", checkout.SubscriptionID)
		return ResultProcessed, nil
	}
	// lookups may be shared between concurrent callers, work on a copy
	fetched := *sub
	if fetched.CustomerID == "" {
		fetched.CustomerID = checkout.CustomerID
	}

	return p.applySubscription(ctx, store, in, fetched, nil)
}

func (p *Processor) handleSubscriptionChanged(ctx context.Context, store interfaces.Store, in input) (Result, error) {
	changed, ok := in.event.(billingevent.SubscriptionChanged)
	if !ok {
		return "", unexpectedEvent(in)
	}

	var customer *db.Customer
	if changed.CustomerID != "" {
		customer = &db.Customer{
			OrganizationID:     in.organizationID,
			ProviderCustomerID: changed.CustomerID,
		}
	}

	return p.applySubscription(ctx, store, in, changed.Subscription, customer)
}

func (p *Processor) handleSubscriptionCanceled(ctx context.Context, store interfaces.Store, in input) (Result, error) {
	canceled, ok := in.event.(billingevent.SubscriptionCanceled)
	if !ok {
		return "", unexpectedEvent(in)
	}

	guard, err := checkOrdering(ctx, store.Subscriptions, canceled.ID, in.envelope.Created)
	if err != nil {
		return "", err
	}
	if guard.Stale {
		return p.stale(ctx, in, guard), nil
	}

	now := p.now().UTC()
	applied, err := store.Subscriptions.Upsert(ctx, db.Subscription{
		OrganizationID:         in.organizationID,
		ProviderSubscriptionID: canceled.ID,
		ProviderCustomerID:     canceled.CustomerID,
		PlanID:                 domain.PlanFree,
		Status:                 domain.SubscriptionStatusCanceled,
		CurrentPeriodEnd:       &now,
		LastEventCreatedAt:     in.envelope.Created,
	})
	if err != nil {
		return "", err
	}
	if !applied {
		p.metrics.StaleEvents.WithLabelValues(string(in.envelope.Type)).Inc()
		return ResultStale, nil
	}

	return ResultProcessed, nil
}

// applySubscription writes the provider view of a subscription behind the ordering guard.
// customer is optional and only written when the subscription write went through.
func (p *Processor) applySubscription(ctx context.Context, store interfaces.Store, in input, sub billingevent.Subscription, customer *db.Customer) (Result, error) {
	guard, err := checkOrdering(ctx, store.Subscriptions, sub.ID, in.envelope.Created)
	if err != nil {
		return "", err
	}
	if guard.Stale {
		return p.stale(ctx, in, guard), nil
	}

	applied, err := store.Subscriptions.Upsert(ctx, db.Subscription{
		OrganizationID:         in.organizationID,
		ProviderSubscriptionID: sub.ID,
		ProviderCustomerID:     sub.CustomerID,
		PlanID:                 p.plans.PlanFor(sub.PriceID),
		Status:                 sub.Status,
		CurrentPeriodEnd:       timePtr(sub.CurrentPeriodEnd),
		LastEventCreatedAt:     in.envelope.Created,
	})
	if err != nil {
		return "", err
	}
	if !applied {
		// a concurrent event created the row with a newer timestamp after our guard read
		p.metrics.StaleEvents.WithLabelValues(string(in.envelope.Type)).Inc()
		return ResultStale, nil
	}
	if customer != nil {
		if err = store.Customers.Upsert(ctx, *customer); err != nil {
			return "", err
		}
	}

	return ResultProcessed, nil
}

func (p *Processor) handleUpcomingInvoice(ctx context.Context, store interfaces.Store, in input) (Result, error) {
	upcoming, ok := in.event.(billingevent.UpcomingInvoice)
	if !ok {
		return "", unexpectedEvent(in)
	}

	message := fmt.Sprintf("Your next invoice of %s will be issued soon.", formatAmount(upcoming.AmountDue, upcoming.Currency))
	if !upcoming.PeriodEnd.IsZero() {
		message = fmt.Sprintf("Your next invoice of %s will be issued on %s.",
			formatAmount(upcoming.AmountDue, upcoming.Currency), upcoming.PeriodEnd.Format(time.DateOnly))
	}
	err := p.notify(ctx, store, in, domain.NotificationInvoiceUpcoming, "Upcoming invoice", message, upcoming.Invoice)
	if err != nil {
		return "", err
	}

	return ResultProcessed, nil
}

func (p *Processor) handleInvoiceChanged(ctx context.Context, store interfaces.Store, in input) (Result, error) {
	changed, ok := in.event.(billingevent.InvoiceChanged)
	if !ok {
		return "", unexpectedEvent(in)
	}
	if changed.InvoiceID == "" {
		logctx.From(ctx).Warn("invoice event without invoice id")
		return ResultSkipped, nil
	}

	if err := store.Invoices.Upsert(ctx, toInvoiceModel(in.organizationID, changed.Invoice, MapInvoiceStatus(changed.Status))); err != nil {
		return "", err
	}

	return ResultProcessed, nil
}

func (p *Processor) handleInvoicePaid(ctx context.Context, store interfaces.Store, in input) (Result, error) {
	paid, ok := in.event.(billingevent.InvoicePaymentSucceededEvent)
	if !ok {
		return "", unexpectedEvent(in)
	}

	periodEnd, err := p.propagatePeriodEnd(ctx, store, in, paid.Invoice)
	if err != nil {
		return "", err
	}
	if err = p.recordInvoice(ctx, store, in, paid.Invoice, domain.InvoiceStatusPaid); err != nil {
		return "", err
	}

	amount := formatAmount(paid.AmountPaid, paid.Currency)
	err = p.notify(ctx, store, in, domain.NotificationPaymentSucceeded, "Payment received",
		fmt.Sprintf("We received your payment of %s.", amount), paid.Invoice)
	if err != nil {
		return "", err
	}

	data := mail.PaymentSucceededData{
		InvoiceID:        paid.InvoiceID,
		Amount:           amount,
		HostedInvoiceURL: paid.HostedURL,
		Year:             strconv.Itoa(p.now().Year()),
	}
	if !periodEnd.IsZero() {
		data.PeriodEnd = periodEnd.Format(time.DateOnly)
	}
	if err = p.queueMail(ctx, store, in.organizationID, data); err != nil {
		return "", err
	}

	return ResultProcessed, nil
}

func (p *Processor) handleInvoicePaymentFailed(ctx context.Context, store interfaces.Store, in input) (Result, error) {
	failed, ok := in.event.(billingevent.InvoicePaymentFailedEvent)
	if !ok {
		return "", unexpectedEvent(in)
	}

	if _, err := p.propagatePeriodEnd(ctx, store, in, failed.Invoice); err != nil {
		return "", err
	}
	if err := p.recordInvoice(ctx, store, in, failed.Invoice, domain.InvoiceStatusFailed); err != nil {
		return "", err
	}

	amount := formatAmount(failed.AmountDue, failed.Currency)
	err := p.notify(ctx, store, in, domain.NotificationPaymentFailed, "Payment failed",
		fmt.Sprintf("Your payment of %s could not be processed.", amount), failed.Invoice)
	if err != nil {
		return "", err
	}

	err = p.queueMail(ctx, store, in.organizationID, mail.PaymentFailedData{
		InvoiceID:        failed.InvoiceID,
		Amount:           amount,
		HostedInvoiceURL: failed.HostedURL,
		Year:             strconv.Itoa(p.now().Year()),
	})
	if err != nil {
		return "", err
	}

	return ResultProcessed, nil
}

// propagatePeriodEnd moves the subscription period end forward for a paid or failed invoice.
// It is independent of the invoice write, a stale guard only skips the subscription side.
func (p *Processor) propagatePeriodEnd(ctx context.Context, store interfaces.Store, in input, invoice billingevent.Invoice) (time.Time, error) {
	if invoice.SubscriptionID == "" {
		return time.Time{}, nil
	}
	log := logctx.From(ctx)

	guard, err := checkOrdering(ctx, store.Subscriptions, invoice.SubscriptionID, in.envelope.Created)
	if err != nil {
		return time.Time{}, err
	}
	if guard.Stale {
		p.stale(ctx, in, guard)
		return time.Time{}, nil
	}
	if guard.Current == nil {
		log.Info("invoice subscription is not tracked yet", "subscriptionID", invoice.SubscriptionID)
		return time.Time{}, nil
	}

	periodEnd := invoice.SubscriptionPeriodEnd
	if periodEnd.IsZero() {
		sub, err := p.lookup.FetchSubscription(ctx, invoice.SubscriptionID)
		if err != nil {
			return time.Time{}, err
		}
		if sub != nil {
			periodEnd = sub.CurrentPeriodEnd
		}
	}
	if periodEnd.IsZero() {
		log.Warn("no period end for invoice subscription", "subscriptionID", invoice.SubscriptionID)
		return time.Time{}, nil
	}

	if _, err = store.Subscriptions.PushPeriodEnd(ctx, invoice.SubscriptionID, periodEnd, in.envelope.Created); err != nil {
		return time.Time{}, err
	}
	return periodEnd, nil
}

// recordInvoice skips payloads without an invoice id, they have no row to key on.
func (p *Processor) recordInvoice(ctx context.Context, store interfaces.Store, in input, invoice billingevent.Invoice, status domain.InvoiceStatus) error {
	if invoice.InvoiceID == "" {
		logctx.From(ctx).Warn("payment event without invoice id, invoice not recorded")
		return nil
	}
	return store.Invoices.Upsert(ctx, toInvoiceModel(in.organizationID, invoice, status))
}

func (p *Processor) stale(ctx context.Context, in input, guard GuardResult) Result {
	p.metrics.StaleEvents.WithLabelValues(string(in.envelope.Type)).Inc()
	logctx.From(ctx).Info("stale event, subscription left untouched",
		"subscriptionID", guard.Current.ProviderSubscriptionID,
		"eventCreatedAt", in.envelope.Created,
		"lastEventCreatedAt", guard.Current.LastEventCreatedAt,
	)
	return ResultStale
}

func (p *Processor) notify(ctx context.Context, store interfaces.Store, in input, notificationType domain.NotificationType, title, message string, invoice billingevent.Invoice) error {
	payload := map[string]interface{}{
		"eventId":   in.envelope.ID,
		"amountDue": invoice.AmountDue,
		"currency":  invoice.Currency,
	}
	if invoice.InvoiceID != "" {
		payload["invoiceId"] = invoice.InvoiceID
	}
	if invoice.AmountPaid > 0 {
		payload["amountPaid"] = invoice.AmountPaid
	}
	if invoice.HostedURL != "" {
		payload["hostedInvoiceUrl"] = invoice.HostedURL
	}
	if invoice.SubscriptionID != "" {
		payload["subscriptionId"] = invoice.SubscriptionID
	}
	if !invoice.PeriodEnd.IsZero() {
		payload["periodEnd"] = invoice.PeriodEnd
	}

	return store.Notifications.Insert(ctx, db.Notification{
		ID:             uuid.New(),
		OrganizationID: in.organizationID,
		Type:           notificationType,
		Title:          title,
		Message:        message,
		Payload:        db.MapToRawMessage(payload),
		CreatedAt:      p.now().UTC(),
	})
}

// queueMail puts a SendMail event into the outbox when the organization has a known e-mail.
func (p *Processor) queueMail(ctx context.Context, store interfaces.Store, organizationID string, data mail.MailData) error {
	customer, err := store.Customers.GetByOrganizationID(ctx, organizationID)
	if err != nil {
		return err
	}
	if customer == nil || customer.Email == "" {
		logctx.From(ctx).Debug("no e-mail known for organization, mail not queued", "organizationID", organizationID)
		return nil
	}

	return store.Outbox.InsertEvent(ctx, events.SendMail{
		OrganizationID: organizationID,
		Recipient:      customer.Email,
		Subject:        data.GetSubject(),
		Data:           data,
	})
}

// MapInvoiceStatus folds provider invoice states onto the three local ones.
func MapInvoiceStatus(providerStatus string) domain.InvoiceStatus {
	switch providerStatus {
	case "paid":
		return domain.InvoiceStatusPaid
	case "uncollectible", "void":
		return domain.InvoiceStatusFailed
	default:
		return domain.InvoiceStatusOpen
	}
}

func toInvoiceModel(organizationID string, invoice billingevent.Invoice, status domain.InvoiceStatus) db.Invoice {
	amountPaid := invoice.AmountPaid
	return db.Invoice{
		OrganizationID:    organizationID,
		ProviderInvoiceID: invoice.InvoiceID,
		AmountDue:         invoice.AmountDue,
		AmountPaid:        &amountPaid,
		Currency:          invoice.Currency,
		Status:            status,
		PeriodStart:       timePtr(invoice.PeriodStart),
		PeriodEnd:         timePtr(invoice.PeriodEnd),
		BillingReason:     stringPtr(invoice.BillingReason),
		HostedInvoiceURL:  stringPtr(invoice.HostedURL),
	}
}

// formatAmount keeps the provider's minor units, no currency rules are applied.
func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d %s", amount, strings.ToUpper(currency))
}

func unexpectedEvent(in input) error {
	return fmt.Errorf("error routing %s, unexpected payload %T", in.envelope.Type, in.event)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
