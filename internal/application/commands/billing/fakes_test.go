package billing_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/commands/billing"
	"github.com/Builder-Lawyers/billing-backend/internal/application/interfaces"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/metrics"
	shared "github.com/Builder-Lawyers/billing-backend/pkg/interfaces"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

type fakeSubscriptions struct {
	rows map[string]db.Subscription
}

func (f *fakeSubscriptions) GetForUpdate(_ context.Context, id string) (*db.Subscription, error) {
	return f.Get(context.Background(), id)
}

func (f *fakeSubscriptions) Get(_ context.Context, id string) (*db.Subscription, error) {
	sub, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (f *fakeSubscriptions) GetOrganizationID(_ context.Context, id string) (string, error) {
	return f.rows[id].OrganizationID, nil
}

func (f *fakeSubscriptions) Upsert(_ context.Context, sub db.Subscription) (bool, error) {
	existing, ok := f.rows[sub.ProviderSubscriptionID]
	if ok {
		if existing.LastEventCreatedAt.After(sub.LastEventCreatedAt) {
			return false, nil
		}
		if sub.ProviderCustomerID == "" {
			sub.ProviderCustomerID = existing.ProviderCustomerID
		}
		if sub.CurrentPeriodEnd == nil {
			sub.CurrentPeriodEnd = existing.CurrentPeriodEnd
		}
	}
	f.rows[sub.ProviderSubscriptionID] = sub
	return true, nil
}

func (f *fakeSubscriptions) PushPeriodEnd(_ context.Context, id string, periodEnd, eventCreatedAt time.Time) (bool, error) {
	existing, ok := f.rows[id]
	if !ok || existing.LastEventCreatedAt.After(eventCreatedAt) {
		return false, nil
	}
	if existing.CurrentPeriodEnd == nil || periodEnd.After(*existing.CurrentPeriodEnd) {
		existing.CurrentPeriodEnd = &periodEnd
	}
	existing.LastEventCreatedAt = eventCreatedAt
	f.rows[id] = existing
	return true, nil
}

type fakeCustomers struct {
	rows map[string]db.Customer
}

func (f *fakeCustomers) Upsert(_ context.Context, customer db.Customer) error {
	if existing, ok := f.rows[customer.OrganizationID]; ok && customer.Email == "" {
		customer.Email = existing.Email
	}
	f.rows[customer.OrganizationID] = customer
	return nil
}

func (f *fakeCustomers) GetOrganizationID(_ context.Context, customerID string) (string, error) {
	for _, c := range f.rows {
		if c.ProviderCustomerID == customerID {
			return c.OrganizationID, nil
		}
	}
	return "", nil
}

func (f *fakeCustomers) GetByOrganizationID(_ context.Context, orgID string) (*db.Customer, error) {
	c, ok := f.rows[orgID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type fakeInvoices struct {
	rows map[string]db.Invoice
}

func (f *fakeInvoices) Upsert(_ context.Context, invoice db.Invoice) error {
	f.rows[invoice.ProviderInvoiceID] = invoice
	return nil
}

func (f *fakeInvoices) Get(_ context.Context, id string) (*db.Invoice, error) {
	inv, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

type fakeNotifications struct {
	rows []db.Notification
}

func (f *fakeNotifications) Insert(_ context.Context, n db.Notification) error {
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakeNotifications) ListByOrganization(_ context.Context, orgID string) ([]db.Notification, error) {
	var out []db.Notification
	for _, n := range f.rows {
		if n.OrganizationID == orgID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeOutbox struct {
	events []shared.Event
}

func (f *fakeOutbox) InsertEvent(_ context.Context, event shared.Event) error {
	f.events = append(f.events, event)
	return nil
}

type fakeStore struct {
	subscriptions *fakeSubscriptions
	customers     *fakeCustomers
	invoices      *fakeInvoices
	notifications *fakeNotifications
	outbox        *fakeOutbox
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		subscriptions: &fakeSubscriptions{rows: map[string]db.Subscription{}},
		customers:     &fakeCustomers{rows: map[string]db.Customer{}},
		invoices:      &fakeInvoices{rows: map[string]db.Invoice{}},
		notifications: &fakeNotifications{},
		outbox:        &fakeOutbox{},
	}
}

func (f *fakeStore) store() interfaces.Store {
	return interfaces.Store{
		Subscriptions: f.subscriptions,
		Customers:     f.customers,
		Invoices:      f.invoices,
		Notifications: f.notifications,
		Outbox:        f.outbox,
	}
}

type fakeLookup struct {
	mu            sync.Mutex
	subscriptions map[string]billingevent.Subscription
	err           error
	calls         int
}

func (f *fakeLookup) FetchSubscription(_ context.Context, id string) (*billingevent.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (f *fakeLookup) FetchSubscriptionMetadata(ctx context.Context, id string) (map[string]string, error) {
	sub, err := f.FetchSubscription(ctx, id)
	if err != nil || sub == nil {
		return nil, err
	}
	return sub.Metadata, nil
}

func newProcessor(lookup billing.SubscriptionLookup) *billing.Processor {
	cfg := &billing.Config{
		WebhookSecret:  "whsec_test",
		OrgMetadataKey: "organization_id",
		PricePlans:     map[string]string{"price_pro": "pro", "price_business": "business"},
	}
	return billing.NewProcessor(cfg, lookup, metrics.NewMetrics(prometheus.NewRegistry()))
}

func envelope(t *testing.T, id string, eventType string, created time.Time, object any) billingevent.Envelope {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return billingevent.Envelope{
		ID:      id,
		Type:    stripe.EventType(eventType),
		Created: created.UTC(),
		Raw:     raw,
	}
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

type obj = map[string]any
