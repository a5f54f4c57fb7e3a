package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application"
	"github.com/Builder-Lawyers/billing-backend/internal/application/consts"
	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/application/events"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	dbs "github.com/Builder-Lawyers/billing-backend/pkg/db"
	"github.com/Builder-Lawyers/billing-backend/pkg/env"
	"github.com/Builder-Lawyers/billing-backend/pkg/interfaces"
	"github.com/jackc/pgx/v5"
)

type OutboxPoller struct {
	handlers   *application.Handlers
	uowFactory *dbs.UOWFactory
	cfg        *OutboxConfig
	stop       chan struct{}
	done       chan struct{}
}

type OutboxConfig struct {
	limit       int
	interval    time.Duration
	maxAttempts int
}

func NewOutboxConfig() *OutboxConfig {
	limit := env.GetInt("SCHEDULER_LIMIT", 5)
	if limit <= 0 {
		limit = 5
	}
	interval := env.GetSeconds("SCHEDULER_INTERVAL", 5*time.Second)
	if interval <= 0 {
		interval = 5 * time.Second
	}
	maxAttempts := env.GetInt("SCHEDULER_MAX_ATTEMPTS", 5)
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &OutboxConfig{
		limit:       limit,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

func NewOutboxPoller(handlers *application.Handlers, uowFactory *dbs.UOWFactory, cfg *OutboxConfig) *OutboxPoller {
	return &OutboxPoller{
		handlers:   handlers,
		uowFactory: uowFactory,
		cfg:        cfg,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (o *OutboxPoller) Start() {
	slog.Info("Starting outbox poller...")
	defer close(o.done)

	t := time.NewTimer(o.cfg.interval)
	defer t.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		select {
		case <-t.C:
			o.Poll(ctx)
			// wait after poll finishes
			t.Reset(o.cfg.interval)
		case <-o.stop:
			slog.Info("Cancelling current execution")
			return
		}
	}
}

// Poll claims up to limit pending rows and handles them concurrently.
// Rows locked by another instance are skipped.
func (o *OutboxPoller) Poll(ctx context.Context) {
	eventsToProcess, err := o.claim(ctx)
	if err != nil {
		slog.Error("error in poller", "err", err)
		return
	}
	if len(eventsToProcess) == 0 {
		slog.Debug("no events to process")
		return
	}

	var wg sync.WaitGroup
	for _, event := range eventsToProcess {
		wg.Add(1)
		go func(ev db.Outbox) {
			defer wg.Done()
			if err := o.handleEvent(ctx, ev); err != nil {
				slog.Error("handler error", "event", ev.ID, "err", err)
			}
		}(event)
	}

	wg.Wait()
	slog.Debug("Finished poller thread processing")
}

func (o *OutboxPoller) claim(ctx context.Context) (claimed []db.Outbox, err error) {
	uow := o.uowFactory.GetUoW()
	tx, err := uow.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Finalize(&err)

	query := `SELECT id, event, status, payload, attempts, created_at FROM billing.outbox
		WHERE status = $1 ORDER BY created_at LIMIT $2 FOR NO KEY UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, consts.NotProcessed, o.cfg.limit)
	if err != nil {
		return nil, err
	}

	var eventIDs []int64
	for rows.Next() {
		var event db.Outbox
		if err = rows.Scan(&event.ID, &event.Event, &event.Status, &event.Payload, &event.Attempts, &event.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		eventIDs = append(eventIDs, int64(event.ID))
		claimed = append(claimed, event)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(eventIDs) == 0 {
		return nil, nil
	}

	_, err = tx.Exec(ctx, "UPDATE billing.outbox SET status = $1 WHERE id = ANY($2)", consts.Processing, eventIDs)
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

func (o *OutboxPoller) handleEvent(ctx context.Context, outbox db.Outbox) error {
	var (
		uow      interfaces.UoW
		tx       pgx.Tx
		err      error
		status   = consts.Processed
		attempts = outbox.Attempts
	)

	slog.Info("Handling event", "event", outbox.Event, "id", outbox.ID)

	switch outbox.Event {
	case events.SendMail{}.GetType():
		event := db.MapOutboxModelToSendMail(outbox)
		uow, err = o.handlers.SendMail.Handle(ctx, event)
		if err != nil {
			var r errs.RetryableError
			if errors.As(err, &r) {
				attempts++
				status = o.retryStatus(outbox, attempts)
			} else {
				status = consts.InError
			}
		}
	default:
		slog.Error("unknown outbox event", "event", outbox.Event, "id", outbox.ID)
		status = consts.InError
	}

	if err != nil {
		slog.Error("error in handler", "event", outbox.Event, "id", outbox.ID, "err", err)
	}

	if uow == nil {
		var errTx error
		// open new transaction if there was none in event handler
		uow = o.uowFactory.GetUoW()
		tx, errTx = uow.Begin(ctx)
		if errTx != nil {
			return errors.Join(err, errTx)
		}
	} else {
		tx = uow.GetTx()
	}

	_, err = tx.Exec(ctx, "UPDATE billing.outbox SET status = $1, attempts = $2 WHERE id = $3", status, attempts, outbox.ID)
	if err != nil {
		errRollback := uow.Rollback()
		slog.Error("error in poller", "err", err)
		return errors.Join(err, errRollback)
	}

	if err = uow.Commit(); err != nil {
		slog.Error("error in poller", "err", err)
		return err
	}

	slog.Info("processed event", "id", outbox.ID, "status", status)
	return nil
}

// retryStatus puts the row back in the queue until it used up its attempts.
func (o *OutboxPoller) retryStatus(outbox db.Outbox, attempts int) consts.OutboxStatus {
	if attempts >= o.cfg.maxAttempts {
		slog.Error("giving up on outbox event", "event", outbox.Event, "id", outbox.ID, "attempts", attempts)
		return consts.InError
	}
	slog.Warn("mail transport unavailable, will retry later", "id", outbox.ID, "attempts", attempts)
	return consts.NotProcessed
}

// Stop waits for the running poll to finish.
func (o *OutboxPoller) Stop() {
	slog.Info("Stopping poller")
	close(o.stop)
	<-o.done
}
