package billing

import (
	"context"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/interfaces"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	domain "github.com/Builder-Lawyers/billing-backend/internal/domain/consts"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db/repo"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/metrics"
	dbs "github.com/Builder-Lawyers/billing-backend/pkg/db"
	"github.com/Builder-Lawyers/billing-backend/pkg/logctx"
)

// PayloadArchive keeps a copy of every admitted payload outside the database.
type PayloadArchive interface {
	Archive(ctx context.Context, eventID string, created time.Time, payload []byte) error
}

type Webhook struct {
	verifier   *Verifier
	processor  *Processor
	uowFactory *dbs.UOWFactory
	ledger     interfaces.WebhookEventRepo
	archive    PayloadArchive
	metrics    *metrics.Metrics
}

// NewWebhook wires the coordinator. archive may be nil.
func NewWebhook(cfg *Config, uowFactory *dbs.UOWFactory, lookup SubscriptionLookup, archive PayloadArchive, m *metrics.Metrics) *Webhook {
	return &Webhook{
		verifier:   NewVerifier(cfg.WebhookSecret),
		processor:  NewProcessor(cfg, lookup, m),
		uowFactory: uowFactory,
		ledger:     repo.NewWebhookEventRepo(uowFactory.Pool),
		archive:    archive,
		metrics:    m,
	}
}

// Handle verifies, admits and applies one webhook delivery.
// A returned error other than SignatureError means the provider should redeliver.
func (w *Webhook) Handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	envelope, err := w.verifier.Verify(payload, signature)
	if err != nil {
		w.metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		logctx.From(ctx).Warn("rejected webhook", "err", err)
		return "", err
	}

	log := logctx.From(ctx).With("eventID", envelope.ID, "type", envelope.Type)
	ctx = logctx.WithLogger(ctx, log)
	start := time.Now()
	defer func() {
		w.metrics.WebhookDuration.WithLabelValues(string(envelope.Type)).Observe(time.Since(start).Seconds())
	}()

	outcome, err := w.process(ctx, envelope)
	if err != nil {
		log.Error("error processing webhook event", "err", err)
		w.metrics.WebhookEvents.WithLabelValues(string(envelope.Type), string(ResultFailed)).Inc()
		w.auditFailure(ctx, envelope, err)
		w.archivePayload(ctx, envelope)
		return ResultFailed, err
	}

	w.metrics.WebhookEvents.WithLabelValues(string(envelope.Type), string(outcome.Result)).Inc()
	if outcome.Result == ResultDuplicate {
		log.Info("duplicate webhook event, already admitted")
		return outcome.Result, nil
	}

	w.auditSuccess(ctx, envelope, outcome)
	w.archivePayload(ctx, envelope)
	log.Info("processed webhook event", "result", outcome.Result, "organizationID", outcome.OrganizationID)

	return outcome.Result, nil
}

// process runs admission and the handler in one transaction, any error rolls back both.
func (w *Webhook) process(ctx context.Context, envelope billingevent.Envelope) (outcome Outcome, err error) {
	uow := w.uowFactory.GetUoW()
	tx, err := uow.Begin(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer uow.Finalize(&err)

	store := repo.NewStore(tx)
	admitted, err := store.Events.Admit(ctx, ledgerRow(envelope))
	if err != nil {
		return Outcome{}, err
	}
	if !admitted {
		return Outcome{Result: ResultDuplicate}, nil
	}

	return w.processor.Apply(ctx, store, envelope)
}

func ledgerRow(envelope billingevent.Envelope) db.WebhookEvent {
	return db.WebhookEvent{
		ProviderEventID: envelope.ID,
		EventType:       string(envelope.Type),
		Payload:         envelope.Payload,
		Status:          domain.WebhookStatusReceived,
		CreatedAt:       envelope.Created,
	}
}
