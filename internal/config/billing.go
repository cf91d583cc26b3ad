package config

// Plan describes a purchasable subscription plan or one-time trial.
type Plan struct {
	// Name is the internal plan identifier (starter, pro, trial, ...).
	Name string

	// Credits granted when the plan is purchased or renewed.
	Credits int64

	// Trial marks one-time trial purchases that carry an expiry instead
	// of a recurring subscription.
	Trial bool

	// TrialDays is the trial length for Trial plans.
	TrialDays int
}

// BillingConfig holds billing-related configuration.
type BillingConfig struct {
	// PriceToPlan maps Stripe price IDs to plans. Webhook events resolve
	// credit grants through this table; unknown prices grant nothing.
	PriceToPlan map[string]Plan
}

// DefaultBillingConfig returns the default billing configuration.
// Price IDs can be overridden per environment via env vars of the form
// STRIPE_PRICE_<PLAN>.
func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		PriceToPlan: map[string]Plan{
			getEnv("STRIPE_PRICE_TRIAL", "price_trial"): {
				Name:      "trial",
				Credits:   10,
				Trial:     true,
				TrialDays: 7,
			},
			getEnv("STRIPE_PRICE_STARTER", "price_starter"): {
				Name:    "starter",
				Credits: 100,
			},
			getEnv("STRIPE_PRICE_PRO", "price_pro"): {
				Name:    "pro",
				Credits: 500,
			},
		},
	}
}

// GetPlan resolves a Stripe price ID to a plan.
// The second return value reports whether the price is known.
func (c *BillingConfig) GetPlan(priceID string) (Plan, bool) {
	plan, ok := c.PriceToPlan[priceID]
	return plan, ok
}
