package billing

import (
	"context"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	"github.com/Builder-Lawyers/billing-backend/pkg/logctx"
)

const auditTimeout = 5 * time.Second

// The audit runs on the pool after the event transaction settled. It never fails the request.

func (w *Webhook) auditSuccess(ctx context.Context, envelope billingevent.Envelope, outcome Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	var note *string
	if outcome.Note != "" {
		note = &outcome.Note
	}
	if err := w.ledger.MarkProcessed(ctx, envelope.ID, note); err != nil {
		logctx.From(ctx).Error("error recording processed event", "err", err)
	}
}

func (w *Webhook) auditFailure(ctx context.Context, envelope billingevent.Envelope, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if err := w.ledger.MarkFailed(ctx, ledgerRow(envelope), cause.Error()); err != nil {
		logctx.From(ctx).Error("error recording failed event", "err", err)
	}
}

func (w *Webhook) archivePayload(ctx context.Context, envelope billingevent.Envelope) {
	if w.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if err := w.archive.Archive(ctx, envelope.ID, envelope.Created, envelope.Payload); err != nil {
		logctx.From(ctx).Warn("error archiving payload", "err", err)
	}
}
