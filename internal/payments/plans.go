// Subscription plan definitions and Stripe price mapping for Mocksmith.

package payments

import (
	"os"

	"mocksmith/internal/usage"
)

// SubscriptionStatus represents the current state of a subscription
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusInactive SubscriptionStatus = "inactive"
)

// Plan represents a subscription plan with full details
type Plan struct {
	Type              usage.PlanType   `json:"type"`
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	MonthlyPriceCents int64            `json:"monthly_price_cents"`
	MonthlyPriceID    string           `json:"monthly_price_id"`
	AnnualPriceCents  int64            `json:"annual_price_cents"`
	AnnualPriceID     string           `json:"annual_price_id"`
	Limits            usage.PlanLimits `json:"limits"`
	Features          []string         `json:"features"`
	IsPopular         bool             `json:"is_popular"`
	TrialDays         int              `json:"trial_days"`
}

// PlanConfig holds the environment-based Stripe price IDs.
type PlanConfig struct {
	StripePriceIDStarterMonthly string
	StripePriceIDStarterAnnual  string
	StripePriceIDProMonthly     string
	StripePriceIDProAnnual      string
	StripePriceIDTeamMonthly    string
	StripePriceIDTeamAnnual     string
}

// LoadPlanConfig loads plan configuration from environment variables
func LoadPlanConfig() *PlanConfig {
	return &PlanConfig{
		StripePriceIDStarterMonthly: getEnvOrDefault("STRIPE_PRICE_STARTER_MONTHLY", "price_starter_monthly"),
		StripePriceIDStarterAnnual:  getEnvOrDefault("STRIPE_PRICE_STARTER_ANNUAL", "price_starter_annual"),
		StripePriceIDProMonthly:     getEnvOrDefault("STRIPE_PRICE_PRO_MONTHLY", "price_pro_monthly"),
		StripePriceIDProAnnual:      getEnvOrDefault("STRIPE_PRICE_PRO_ANNUAL", "price_pro_annual"),
		StripePriceIDTeamMonthly:    getEnvOrDefault("STRIPE_PRICE_TEAM_MONTHLY", "price_team_monthly"),
		StripePriceIDTeamAnnual:     getEnvOrDefault("STRIPE_PRICE_TEAM_ANNUAL", "price_team_annual"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetAllPlans returns all available subscription plans
func GetAllPlans() []Plan {
	config := LoadPlanConfig()

	return []Plan{
		{
			Type:              usage.PlanFree,
			Name:              "Free",
			Description:       "Try Mocksmith on a small project",
			MonthlyPriceCents: 0,
			MonthlyPriceID:    "", // No Stripe price for free plan
			AnnualPriceCents:  0,
			AnnualPriceID:     "",
			Limits:            usage.GetPlanLimits(usage.PlanFree),
			Features: []string{
				"30 generations/month",
				"3 projects, 15 screens",
				"Interactive HTML previews",
				"2 Figma exports/month",
				"Community support",
			},
			TrialDays: 0,
		},
		{
			Type:              usage.PlanStarter,
			Name:              "Starter",
			Description:       "For solo designers validating ideas",
			MonthlyPriceCents: 900, // $9.00
			MonthlyPriceID:    config.StripePriceIDStarterMonthly,
			AnnualPriceCents:  8640, // $86.40/year, 20% off
			AnnualPriceID:     config.StripePriceIDStarterAnnual,
			Limits:            usage.GetPlanLimits(usage.PlanStarter),
			Features: []string{
				"300 generations/month",
				"10 projects, 100 screens",
				"Design-brief planning stage",
				"20 Figma exports/month",
				"Email support",
			},
			TrialDays: 7,
		},
		{
			Type:              usage.PlanPro,
			Name:              "Pro",
			Description:       "For designers shipping client work every week",
			MonthlyPriceCents: 2400, // $24.00
			MonthlyPriceID:    config.StripePriceIDProMonthly,
			AnnualPriceCents:  23040, // $230.40/year, 20% off
			AnnualPriceID:     config.StripePriceIDProAnnual,
			Limits:            usage.GetPlanLimits(usage.PlanPro),
			Features: []string{
				"2,000 generations/month",
				"50 projects, 1,000 screens",
				"Design-brief planning stage",
				"Model selection per request",
				"200 Figma exports/month",
				"Priority support",
			},
			IsPopular: true,
			TrialDays: 14,
		},
		{
			Type:              usage.PlanTeam,
			Name:              "Team",
			Description:       "Shared workspaces for product teams",
			MonthlyPriceCents: 4900, // $49.00/seat
			MonthlyPriceID:    config.StripePriceIDTeamMonthly,
			AnnualPriceCents:  47040, // $470.40/year, 20% off
			AnnualPriceID:     config.StripePriceIDTeamAnnual,
			Limits:            usage.GetPlanLimits(usage.PlanTeam),
			Features: []string{
				"10,000 generations/seat/month",
				"Unlimited projects and screens",
				"Unlimited Figma exports",
				"Shared project workspaces",
				"Priority support",
			},
			TrialDays: 14,
		},
	}
}

// GetPlanByType returns a specific plan by its type
func GetPlanByType(planType usage.PlanType) *Plan {
	plans := GetAllPlans()
	for i := range plans {
		if plans[i].Type == planType {
			return &plans[i]
		}
	}
	return nil
}

// GetPlanByPriceID returns a plan by its Stripe price ID
func GetPlanByPriceID(priceID string) *Plan {
	if priceID == "" {
		return nil
	}
	plans := GetAllPlans()
	for i := range plans {
		if plans[i].MonthlyPriceID == priceID || plans[i].AnnualPriceID == priceID {
			return &plans[i]
		}
	}
	return nil
}

// GetPlanTypeByPriceID returns the plan type for a given Stripe price ID
func GetPlanTypeByPriceID(priceID string) usage.PlanType {
	if plan := GetPlanByPriceID(priceID); plan != nil {
		return plan.Type
	}
	return usage.PlanFree
}

// IsValidPlanType checks if a plan type is valid
func IsValidPlanType(planType string) bool {
	switch usage.PlanType(planType) {
	case usage.PlanFree, usage.PlanStarter, usage.PlanPro, usage.PlanTeam:
		return true
	}
	return false
}

// PricingInfo is the pricing structure served to the frontend.
type PricingInfo struct {
	Plans          []Plan   `json:"plans"`
	Currency       string   `json:"currency"`
	CurrencySymbol string   `json:"currency_symbol"`
	BillingCycles  []string `json:"billing_cycles"`
	TrialAvailable bool     `json:"trial_available"`
}

// GetPricingInfo returns complete pricing information for display
func GetPricingInfo() *PricingInfo {
	return &PricingInfo{
		Plans:          GetAllPlans(),
		Currency:       "usd",
		CurrencySymbol: "$",
		BillingCycles:  []string{"monthly", "annual"},
		TrialAvailable: true,
	}
}
