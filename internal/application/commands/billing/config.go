package billing

import (
	"fmt"
	"strings"

	domain "github.com/Builder-Lawyers/billing-backend/internal/domain/consts"
	"github.com/Builder-Lawyers/billing-backend/pkg/env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	WebhookSecret  string            `validate:"required"`
	OrgMetadataKey string            `validate:"required"`
	PricePlans     map[string]string `validate:"dive,keys,required,endkeys,required"`
}

func NewConfig() (*Config, error) {
	plans, err := ParsePricePlans(env.GetEnv("BILLING_PRICE_PLANS", ""))
	if err != nil {
		return nil, err
	}
	return &Config{
		WebhookSecret:  env.GetEnv("STRIPE_WEBHOOK", ""),
		OrgMetadataKey: env.GetEnv("BILLING_ORG_METADATA_KEY", domain.DefaultOrganizationMetadataKey),
		PricePlans:     plans,
	}, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid billing config, %v", err)
	}
	return nil
}

// ParsePricePlans reads "price_a=pro,price_b=business".
func ParsePricePlans(raw string) (map[string]string, error) {
	plans := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		priceID, plan, ok := strings.Cut(pair, "=")
		priceID, plan = strings.TrimSpace(priceID), strings.TrimSpace(plan)
		if !ok || priceID == "" || plan == "" {
			return nil, fmt.Errorf("error parsing price plan %q, expected price=plan", pair)
		}
		plans[priceID] = plan
	}
	return plans, nil
}
