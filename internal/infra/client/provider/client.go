package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/subscription"
	"golang.org/x/sync/singleflight"
)

const (
	opFetchSubscription = "fetch_subscription"
	opFetchMetadata     = "fetch_subscription_metadata"
)

// Client performs live subscription lookups against the provider API.
// It owns its backend, the global stripe.Key is never touched.
type Client struct {
	subscriptions subscription.Client
	metadata      *expirable.LRU[string, map[string]string]
	group         singleflight.Group
	metrics       *metrics.Metrics
}

func NewClient(cfg *Config, m *metrics.Metrics) *Client {
	backendConfig := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(1),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.URL != "" {
		backendConfig.URL = stripe.String(cfg.URL)
	}

	return &Client{
		subscriptions: subscription.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: cfg.APIKey,
		},
		metadata: expirable.NewLRU[string, map[string]string](cfg.CacheSize, nil, cfg.CacheTTL),
		metrics:  m,
	}
}

// FetchSubscription returns nil without error when the provider does not know the id.
func (c *Client) FetchSubscription(ctx context.Context, subscriptionID string) (*billingevent.Subscription, error) {
	res, err, _ := c.group.Do(subscriptionID, func() (interface{}, error) {
		return c.get(context.WithoutCancel(ctx), subscriptionID)
	})
	if err != nil {
		c.metrics.ProviderLookups.WithLabelValues(opFetchSubscription, "error").Inc()
		return nil, errs.ProviderError{Op: opFetchSubscription, Err: err}
	}
	sub, _ := res.(*billingevent.Subscription)
	if sub == nil {
		c.metrics.ProviderLookups.WithLabelValues(opFetchSubscription, "not_found").Inc()
		return nil, nil
	}
	c.metrics.ProviderLookups.WithLabelValues(opFetchSubscription, "ok").Inc()

	return sub, nil
}

// FetchSubscriptionMetadata is cached; a missing subscription yields a nil map.
func (c *Client) FetchSubscriptionMetadata(ctx context.Context, subscriptionID string) (map[string]string, error) {
	if metadata, ok := c.metadata.Get(subscriptionID); ok {
		c.metrics.ProviderLookups.WithLabelValues(opFetchMetadata, "cache_hit").Inc()
		return metadata, nil
	}

	res, err, _ := c.group.Do(subscriptionID, func() (interface{}, error) {
		return c.get(context.WithoutCancel(ctx), subscriptionID)
	})
	if err != nil {
		c.metrics.ProviderLookups.WithLabelValues(opFetchMetadata, "error").Inc()
		return nil, errs.ProviderError{Op: opFetchMetadata, Err: err}
	}
	sub, _ := res.(*billingevent.Subscription)
	if sub == nil {
		c.metrics.ProviderLookups.WithLabelValues(opFetchMetadata, "not_found").Inc()
		return nil, nil
	}
	c.metrics.ProviderLookups.WithLabelValues(opFetchMetadata, "ok").Inc()

	return sub.Metadata, nil
}

// get runs detached from the caller's cancellation since its result is shared with every waiter
// of the same id. The HTTP client timeout bounds it.
func (c *Client) get(ctx context.Context, subscriptionID string) (*billingevent.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.subscriptions.Get(subscriptionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			slog.Info("subscription not found at provider", "subscriptionID", subscriptionID)
			return nil, nil
		}
		return nil, err
	}

	out := billingevent.SubscriptionFromStripe(sub)
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	c.metadata.Add(subscriptionID, out.Metadata)

	return &out, nil
}
