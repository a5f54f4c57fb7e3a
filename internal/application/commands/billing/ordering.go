package billing

import (
	"context"
	"time"

	"github.com/Builder-Lawyers/billing-backend/internal/application/interfaces"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
)

type GuardResult struct {
	Stale   bool
	Current *db.Subscription
}

// checkOrdering locks the subscription row for the rest of the transaction.
// Only strictly older events are stale, an equal timestamp is applied again.
func checkOrdering(ctx context.Context, subscriptions interfaces.SubscriptionRepo, subscriptionID string, eventCreatedAt time.Time) (GuardResult, error) {
	current, err := subscriptions.GetForUpdate(ctx, subscriptionID)
	if err != nil {
		return GuardResult{}, err
	}
	if current == nil {
		return GuardResult{}, nil
	}

	return GuardResult{
		Stale:   eventCreatedAt.Before(current.LastEventCreatedAt),
		Current: current,
	}, nil
}
