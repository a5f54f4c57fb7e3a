package billing

import (
	"context"
	"errors"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/application/interfaces"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/metrics"
	"github.com/Builder-Lawyers/billing-backend/pkg/logctx"
	"github.com/stripe/stripe-go/v82"
)

type Result string

const (
	ResultProcessed  Result = "processed"
	ResultDuplicate  Result = "duplicate"
	ResultSkipped    Result = "skipped"
	ResultUnresolved Result = "unresolved"
	ResultStale      Result = "stale"
	ResultFailed     Result = "failed"
)

// Outcome of one admitted event. Note ends up in the ledger error_message column.
type Outcome struct {
	Result         Result
	OrganizationID string
	Note           string
}

type handlerFunc func(p *Processor, ctx context.Context, store interfaces.Store, in input) (Result, error)

var routes = map[stripe.EventType]handlerFunc{
	billingevent.CheckoutCompleted:       (*Processor).handleCheckoutCompleted,
	billingevent.SubscriptionCreated:     (*Processor).handleSubscriptionChanged,
	billingevent.SubscriptionUpdated:     (*Processor).handleSubscriptionChanged,
	billingevent.SubscriptionDeleted:     (*Processor).handleSubscriptionCanceled,
	billingevent.InvoiceUpcoming:         (*Processor).handleUpcomingInvoice,
	billingevent.InvoiceCreated:          (*Processor).handleInvoiceChanged,
	billingevent.InvoiceUpdated:          (*Processor).handleInvoiceChanged,
	billingevent.InvoiceFinalized:        (*Processor).handleInvoiceChanged,
	billingevent.InvoicePaymentSucceeded: (*Processor).handleInvoicePaid,
	billingevent.InvoicePaid:             (*Processor).handleInvoicePaid,
	billingevent.InvoicePaymentFailed:    (*Processor).handleInvoicePaymentFailed,
}

// Processor applies one verified event to the store it is given.
type Processor struct {
	resolver *Resolver
	plans    *PlanCatalog
	lookup   SubscriptionLookup
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewProcessor(cfg *Config, lookup SubscriptionLookup, m *metrics.Metrics) *Processor {
	return &Processor{
		resolver: NewResolver(cfg.OrgMetadataKey, lookup),
		plans:    NewPlanCatalog(cfg.PricePlans),
		lookup:   lookup,
		metrics:  m,
		now:      time.Now,
	}
}

func (p *Processor) Apply(ctx context.Context, store interfaces.Store, envelope billingevent.Envelope) (Outcome, error) {
	log := logctx.From(ctx)

	handler, ok := routes[envelope.Type]
	if !ok {
		log.Info("skipping unhandled event type")
		return Outcome{Result: ResultSkipped, Note: "unhandled event type"}, nil
	}

	event, err := billingevent.Parse(envelope)
	if err != nil {
		return Outcome{}, err
	}

	orgID, err := p.resolver.Resolve(ctx, store, event.Linkage())
	if err != nil {
		if errors.Is(err, errs.ErrOrganizationNotResolved) {
			p.metrics.UnresolvedEvents.WithLabelValues(string(envelope.Type)).Inc()
			log.Warn("organization not resolved, event accepted without changes", "linkage", event.Linkage())
			return Outcome{Result: ResultUnresolved, Note: err.Error()}, nil
		}
		return Outcome{}, err
	}

	ctx = logctx.WithLogger(ctx, log.With("organizationID", orgID))
	result, err := handler(p, ctx, store, input{envelope: envelope, event: event, organizationID: orgID})
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Result: result, OrganizationID: orgID}
	switch result {
	case ResultStale:
		outcome.Note = "stale event"
	case ResultSkipped:
		outcome.Note = "nothing to apply"
	}
	return outcome, nil
}
