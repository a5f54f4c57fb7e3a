package billing

import (
	"log/slog"

	domain "github.com/Builder-Lawyers/billing-backend/internal/domain/consts"
)

type PlanCatalog struct {
	plans map[string]string
}

func NewPlanCatalog(plans map[string]string) *PlanCatalog {
	return &PlanCatalog{plans: plans}
}

// PlanFor falls back to the price id itself so an unmapped price is still visible downstream.
func (c *PlanCatalog) PlanFor(priceID string) string {
	if priceID == "" {
		return domain.PlanFree
	}
	if plan, ok := c.plans[priceID]; ok {
		return plan
	}
	slog.Warn("price is not mapped to a plan", "priceID", priceID)
	return priceID
}
