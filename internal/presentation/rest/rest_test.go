package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application"
	"github.com/Builder-Lawyers/billing-backend/internal/application/commands/billing"
	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	domain "github.com/Builder-Lawyers/billing-backend/internal/domain/consts"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db/repo"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/metrics"
	"github.com/Builder-Lawyers/billing-backend/internal/presentation/rest"
	"github.com/Builder-Lawyers/billing-backend/internal/testinfra"
	dbs "github.com/Builder-Lawyers/billing-backend/pkg/db"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const secret = "whsec_rest_test"

var (
	pool   *pgxpool.Pool
	app    *fiber.App
	lookup = &stubLookup{subscriptions: map[string]billingevent.Subscription{}}
)

type stubLookup struct {
	mu            sync.Mutex
	subscriptions map[string]billingevent.Subscription
	err           error
}

func (s *stubLookup) set(subs map[string]billingevent.Subscription, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions, s.err = subs, err
}

func (s *stubLookup) FetchSubscription(_ context.Context, id string) (*billingevent.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *stubLookup) FetchSubscriptionMetadata(ctx context.Context, id string) (map[string]string, error) {
	sub, err := s.FetchSubscription(ctx, id)
	if err != nil || sub == nil {
		return nil, err
	}
	return sub.Metadata, nil
}

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}
	var terminate func()
	pool, terminate = testinfra.SetupDB()

	registry := prometheus.NewRegistry()
	cfg := &billing.Config{
		WebhookSecret:  secret,
		OrgMetadataKey: domain.DefaultOrganizationMetadataKey,
		PricePlans:     map[string]string{"price_pro": "pro", "price_business": "business"},
	}
	handlers := &application.Handlers{
		Webhook: billing.NewWebhook(cfg, dbs.NewUoWFactory(pool), lookup, nil, metrics.NewMetrics(registry)),
	}
	app = fiber.New()
	rest.RegisterHandlers(app, rest.NewServer(handlers, pool), registry)

	code := m.Run()

	terminate()
	os.Exit(code)
}

func reset(t *testing.T) {
	t.Helper()
	testinfra.Reset(context.Background(), pool)
	lookup.set(map[string]billingevent.Subscription{}, nil)
}

func eventPayload(t *testing.T, id, eventType string, created int64, object map[string]any) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": "2025-06-30.basil",
		"type":        eventType,
		"created":     created,
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func deliver(t *testing.T, payload []byte) (int, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return post(t, payload, signed.Header)
}

func post(t *testing.T, payload []byte, signature string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func checkoutObject() map[string]any {
	return map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"client_reference_id": "org-1",
		"customer":            "cus-1",
		"customer_details":    map[string]any{"email": "owner@org.test"},
		"subscription":        "sub-1",
	}
}

func subscriptionObject(status string) map[string]any {
	return map[string]any{
		"id":       "sub-1",
		"object":   "subscription",
		"customer": "cus-1",
		"status":   status,
		"metadata": map[string]string{"organization_id": "org-1"},
		"items": map[string]any{"object": "list", "data": []map[string]any{
			{"id": "si_1", "price": map[string]any{"id": "price_pro"}, "current_period_end": 1705270400},
		}},
	}
}

func ledgerStatus(t *testing.T, eventID string) (domain.WebhookStatus, string) {
	t.Helper()
	event, err := repo.NewWebhookEventRepo(pool).Get(context.Background(), eventID)
	require.NoError(t, err)
	note := ""
	if event.ErrorMessage != nil {
		note = *event.ErrorMessage
	}
	return event.Status, note
}

func count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), "SELECT count(*) FROM billing."+table).Scan(&n))
	return n
}

func TestCheckoutThenUpdateThenStale(t *testing.T) {
	reset(t)
	lookup.set(map[string]billingevent.Subscription{
		"sub-1": {ID: "sub-1", CustomerID: "cus-1", Status: "active", PriceID: "price_pro", CurrentPeriodEnd: time.Unix(1702592000, 0)},
	}, nil)
	ctx := context.Background()

	status, body := deliver(t, eventPayload(t, "evt_checkout", "checkout.session.completed", 1000, checkoutObject()))
	require.Equal(t, http.StatusOK, status, body)
	require.JSONEq(t, `{"received": true}`, body)

	customer, err := repo.NewCustomerRepo(pool).GetByOrganizationID(ctx, "org-1")
	require.NoError(t, err)
	require.Equal(t, "cus-1", customer.ProviderCustomerID)
	sub, err := repo.NewSubscriptionRepo(pool).Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, "org-1", sub.OrganizationID)
	require.Equal(t, "pro", sub.PlanID)
	require.Equal(t, "active", sub.Status)

	status, _ = deliver(t, eventPayload(t, "evt_update", "customer.subscription.updated", 2000, subscriptionObject("past_due")))
	require.Equal(t, http.StatusOK, status)
	sub, err = repo.NewSubscriptionRepo(pool).Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, "past_due", sub.Status)
	require.True(t, time.Unix(2000, 0).Equal(sub.LastEventCreatedAt))

	status, _ = deliver(t, eventPayload(t, "evt_old", "customer.subscription.updated", 1500, subscriptionObject("canceled")))
	require.Equal(t, http.StatusOK, status)
	sub, err = repo.NewSubscriptionRepo(pool).Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, "past_due", sub.Status)
	require.True(t, time.Unix(2000, 0).Equal(sub.LastEventCreatedAt))

	ledger, note := ledgerStatus(t, "evt_old")
	require.Equal(t, domain.WebhookStatusProcessed, ledger)
	require.Equal(t, "stale event", note)
}

func TestRedeliveryIsNoop(t *testing.T) {
	reset(t)
	payload := eventPayload(t, "evt_dup", "customer.subscription.updated", 2000, subscriptionObject("past_due"))

	status, _ := deliver(t, payload)
	require.Equal(t, http.StatusOK, status)
	_, err := pool.Exec(context.Background(), "UPDATE billing.subscriptions SET status = 'active'")
	require.NoError(t, err)

	status, body := deliver(t, payload)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"received": true}`, body)

	sub, err := repo.NewSubscriptionRepo(pool).Get(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Equal(t, "active", sub.Status, "second delivery must not reapply the event")
	require.Equal(t, 1, count(t, "webhook_event_log"))
}

func TestPaymentFailedRecordsInvoiceAndNotification(t *testing.T) {
	reset(t)
	ctx := context.Background()
	status, _ := deliver(t, eventPayload(t, "evt_sub", "customer.subscription.created", 1000, subscriptionObject("active")))
	require.Equal(t, http.StatusOK, status)

	status, body := deliver(t, eventPayload(t, "evt_failed", "invoice.payment_failed", 2000, map[string]any{
		"id":         "inv-1",
		"object":     "invoice",
		"customer":   "cus-1",
		"amount_due": 4900,
		"currency":   "eur",
		"status":     "open",
		"parent": map[string]any{
			"type":                 "subscription_details",
			"subscription_details": map[string]any{"subscription": "sub-1"},
		},
		"lines": map[string]any{"object": "list", "data": []map[string]any{
			{"id": "il_1", "period": map[string]any{"start": 1705270400, "end": 1707948800}},
		}},
	}))
	require.Equal(t, http.StatusOK, status, body)

	invoice, err := repo.NewInvoiceRepo(pool).Get(ctx, "inv-1")
	require.NoError(t, err)
	require.Equal(t, domain.InvoiceStatusFailed, invoice.Status)
	require.Equal(t, int64(4900), invoice.AmountDue)
	require.Equal(t, "org-1", invoice.OrganizationID)

	notifications, err := repo.NewNotificationRepo(pool).ListByOrganization(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, domain.NotificationPaymentFailed, notifications[0].Type)

	sub, err := repo.NewSubscriptionRepo(pool).Get(ctx, "sub-1")
	require.NoError(t, err)
	require.True(t, time.Unix(1707948800, 0).Equal(*sub.CurrentPeriodEnd))
}

func TestUnresolvedEventIsProcessedWithoutTenantRows(t *testing.T) {
	reset(t)

	status, _ := deliver(t, eventPayload(t, "evt_orphan", "customer.subscription.updated", 1000, map[string]any{
		"id": "sub-x", "object": "subscription", "customer": "cus-x", "status": "active",
	}))
	require.Equal(t, http.StatusOK, status)

	ledger, note := ledgerStatus(t, "evt_orphan")
	require.Equal(t, domain.WebhookStatusProcessed, ledger)
	require.Equal(t, "organization not resolved", note)
	require.Zero(t, count(t, "subscriptions"))
	require.Zero(t, count(t, "customers"))
	require.Zero(t, count(t, "billing_notifications"))
}

func TestProviderFailureRollsBackAndAllowsRedelivery(t *testing.T) {
	reset(t)
	lookup.set(nil, errs.ProviderError{Op: "fetch_subscription", Err: errors.New("timeout")})
	payload := eventPayload(t, "evt_atomic", "checkout.session.completed", 1000, checkoutObject())

	status, body := deliver(t, payload)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Contains(t, body, "timeout")

	require.Zero(t, count(t, "customers"), "customer upsert rolled back with the failed lookup")
	require.Zero(t, count(t, "subscriptions"))
	ledger, note := ledgerStatus(t, "evt_atomic")
	require.Equal(t, domain.WebhookStatusFailed, ledger)
	require.Contains(t, note, "timeout")

	lookup.set(map[string]billingevent.Subscription{
		"sub-1": {ID: "sub-1", CustomerID: "cus-1", Status: "active", PriceID: "price_pro"},
	}, nil)
	status, _ = deliver(t, payload)
	require.Equal(t, http.StatusOK, status)

	ledger, _ = ledgerStatus(t, "evt_atomic")
	require.Equal(t, domain.WebhookStatusProcessed, ledger)
	require.Equal(t, 1, count(t, "customers"))
	require.Equal(t, 1, count(t, "subscriptions"))
}

func TestInvalidSignatureIsRejected(t *testing.T) {
	reset(t)
	payload := eventPayload(t, "evt_forged", "invoice.paid", 1000, map[string]any{"id": "inv-1", "object": "invoice"})

	status, body := post(t, payload, "t=1,v1=deadbeef")
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, "error")

	status, _ = post(t, payload, "")
	require.Equal(t, http.StatusBadRequest, status)

	require.Zero(t, count(t, "webhook_event_log"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-123")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "req-123", resp.Header.Get(fiber.HeaderXRequestID))
}

func TestMetricsExposed(t *testing.T) {
	reset(t)
	status, _ := deliver(t, eventPayload(t, "evt_metrics", "charge.refunded", 1000, map[string]any{"id": "ch_1"}))
	require.Equal(t, http.StatusOK, status)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), `billing_webhook_events_total{result="skipped",type="charge.refunded"}`)
}
