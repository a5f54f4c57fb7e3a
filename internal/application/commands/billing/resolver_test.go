package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Builder-Lawyers/billing-backend/internal/application/commands/billing"
	"github.com/Builder-Lawyers/billing-backend/internal/application/errs"
	"github.com/Builder-Lawyers/billing-backend/internal/domain/billingevent"
	"github.com/Builder-Lawyers/billing-backend/internal/infra/db"
	"github.com/stretchr/testify/require"
)

func TestResolverFallbackOrder(t *testing.T) {
	cases := []struct {
		name        string
		linkage     billingevent.Linkage
		want        string
		wantLookups int
	}{
		{
			name: "metadata wins over everything",
			linkage: billingevent.Linkage{
				Metadata:             map[string]string{"organization_id": "org-meta"},
				ClientReferenceID:    "org-ref",
				SubscriptionMetadata: map[string]string{"organization_id": "org-submeta"},
				CustomerID:           "cus-known",
				SubscriptionID:       "sub-known",
			},
			want: "org-meta",
		},
		{
			name: "client reference before subscription details",
			linkage: billingevent.Linkage{
				ClientReferenceID:    "org-ref",
				SubscriptionMetadata: map[string]string{"organization_id": "org-submeta"},
				CustomerID:           "cus-known",
			},
			want: "org-ref",
		},
		{
			name: "subscription details before customer table",
			linkage: billingevent.Linkage{
				SubscriptionMetadata: map[string]string{"organization_id": "org-submeta"},
				CustomerID:           "cus-known",
			},
			want: "org-submeta",
		},
		{
			name:    "customer table before subscription table",
			linkage: billingevent.Linkage{CustomerID: "cus-known", SubscriptionID: "sub-known"},
			want:    "org-customer",
		},
		{
			name:    "subscription table before live lookup",
			linkage: billingevent.Linkage{CustomerID: "cus-unknown", SubscriptionID: "sub-known"},
			want:    "org-subscription",
		},
		{
			name:        "live lookup last",
			linkage:     billingevent.Linkage{CustomerID: "cus-unknown", SubscriptionID: "sub-live"},
			want:        "org-live",
			wantLookups: 1,
		},
		{
			name:    "blank metadata value is ignored",
			linkage: billingevent.Linkage{Metadata: map[string]string{"organization_id": "  "}, ClientReferenceID: "org-ref"},
			want:    "org-ref",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeStore()
			fs.customers.rows["org-customer"] = db.Customer{OrganizationID: "org-customer", ProviderCustomerID: "cus-known"}
			fs.subscriptions.rows["sub-known"] = db.Subscription{OrganizationID: "org-subscription", ProviderSubscriptionID: "sub-known"}
			lookup := &fakeLookup{subscriptions: map[string]billingevent.Subscription{
				"sub-live": {ID: "sub-live", Metadata: map[string]string{"organization_id": "org-live"}},
			}}

			got, err := billing.NewResolver("organization_id", lookup).Resolve(context.Background(), fs.store(), tc.linkage)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.wantLookups, lookup.calls)
		})
	}
}

func TestResolverNothingFound(t *testing.T) {
	lookup := &fakeLookup{}

	_, err := billing.NewResolver("organization_id", lookup).
		Resolve(context.Background(), newFakeStore().store(), billingevent.Linkage{CustomerID: "cus-x"})
	require.ErrorIs(t, err, errs.ErrOrganizationNotResolved)
	require.Zero(t, lookup.calls, "no live lookup without a subscription id")
}

func TestResolverUsesConfiguredKey(t *testing.T) {
	got, err := billing.NewResolver("tenant", &fakeLookup{}).Resolve(context.Background(), newFakeStore().store(),
		billingevent.Linkage{Metadata: map[string]string{"tenant": "org-tenant", "organization_id": "org-other"}})
	require.NoError(t, err)
	require.Equal(t, "org-tenant", got)
}

func TestResolverPropagatesProviderError(t *testing.T) {
	lookup := &fakeLookup{err: errs.ProviderError{Op: "fetch_subscription_metadata", Err: errors.New("503")}}

	_, err := billing.NewResolver("organization_id", lookup).
		Resolve(context.Background(), newFakeStore().store(), billingevent.Linkage{SubscriptionID: "sub-x"})
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrOrganizationNotResolved)
}
