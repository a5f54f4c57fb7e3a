package billing

import (
	"context"
	"strings"

	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/application/interfaces"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
)

// SubscriptionLookup is the live view of the provider. Both methods return nil without error
// when the provider does not know the subscription.
type SubscriptionLookup interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (*billingevent.Subscription, error)
	FetchSubscriptionMetadata(ctx context.Context, subscriptionID string) (map[string]string, error)
}

type Resolver struct {
	metadataKey string
	lookup      SubscriptionLookup
}

func NewResolver(metadataKey string, lookup SubscriptionLookup) *Resolver {
	return &Resolver{metadataKey: metadataKey, lookup: lookup}
}

// Resolve walks the fallback chain and returns the first organization found.
// The live lookup is last because it is the only step leaving the database.
func (r *Resolver) Resolve(ctx context.Context, store interfaces.Store, linkage billingevent.Linkage) (string, error) {
	if orgID := r.fromMetadata(linkage.Metadata); orgID != "" {
		return orgID, nil
	}
	if orgID := strings.TrimSpace(linkage.ClientReferenceID); orgID != "" {
		return orgID, nil
	}
	if orgID := r.fromMetadata(linkage.SubscriptionMetadata); orgID != "" {
		return orgID, nil
	}

	if linkage.CustomerID != "" {
		orgID, err := store.Customers.GetOrganizationID(ctx, linkage.CustomerID)
		if err != nil {
			return "", err
		}
		if orgID != "" {
			return orgID, nil
		}
	}

	if linkage.SubscriptionID != "" {
		orgID, err := store.Subscriptions.GetOrganizationID(ctx, linkage.SubscriptionID)
		if err != nil {
			return "", err
		}
		if orgID != "" {
			return orgID, nil
		}

		metadata, err := r.lookup.FetchSubscriptionMetadata(ctx, linkage.SubscriptionID)
		if err != nil {
			return "", err
		}
		if orgID = r.fromMetadata(metadata); orgID != "" {
			return orgID, nil
		}
	}

	return "", errs.ErrOrganizationNotResolved
}

func (r *Resolver) fromMetadata(metadata map[string]string) string {
	return strings.TrimSpace(metadata[r.metadataKey])
}
