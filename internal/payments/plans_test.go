package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mocksmith/internal/usage"
)

func TestGetAllPlans(t *testing.T) {
	plans := GetAllPlans()
	require.Len(t, plans, 4)

	assert.Equal(t, usage.PlanFree, plans[0].Type)
	assert.Zero(t, plans[0].MonthlyPriceCents)
	assert.Empty(t, plans[0].MonthlyPriceID, "free plan has no Stripe price")

	pro := GetPlanByType(usage.PlanPro)
	require.NotNil(t, pro)
	assert.True(t, pro.IsPopular)
	assert.Equal(t, int64(2400), pro.MonthlyPriceCents)
	assert.Equal(t, 2000, pro.Limits.Generations)
}

func TestGetPlanTypeByPriceID(t *testing.T) {
	t.Setenv("STRIPE_PRICE_PRO_MONTHLY", "price_123abc")

	assert.Equal(t, usage.PlanPro, GetPlanTypeByPriceID("price_123abc"))
	assert.Equal(t, usage.PlanFree, GetPlanTypeByPriceID("price_unknown"))
	assert.Equal(t, usage.PlanFree, GetPlanTypeByPriceID(""))
}

func TestIsValidPlanType(t *testing.T) {
	assert.True(t, IsValidPlanType("free"))
	assert.True(t, IsValidPlanType("starter"))
	assert.True(t, IsValidPlanType("pro"))
	assert.True(t, IsValidPlanType("team"))
	assert.False(t, IsValidPlanType("enterprise"))
	assert.False(t, IsValidPlanType(""))
}

func TestAnnualPricingDiscount(t *testing.T) {
	for _, plan := range GetAllPlans() {
		if plan.MonthlyPriceCents == 0 {
			continue
		}
		annual := float64(plan.AnnualPriceCents)
		full := float64(plan.MonthlyPriceCents * 12)
		assert.InDelta(t, 0.8, annual/full, 0.01, "plan %s should carry the 20%% annual discount", plan.Name)
	}
}
