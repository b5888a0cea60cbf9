package models

// Tier selects the seed greeting variant for new chat sessions. It has no
// other effect on conversation logic.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// SubscriptionStatus is the coarse account state driven by checkout.
type SubscriptionStatus string

const (
	SubscriptionNone    SubscriptionStatus = "none"
	SubscriptionMonthly SubscriptionStatus = "monthly"
	SubscriptionYearly  SubscriptionStatus = "yearly"
)

// Tier maps the subscription onto the chat access tier.
func (s SubscriptionStatus) Tier() Tier {
	if s == SubscriptionMonthly || s == SubscriptionYearly {
		return TierPremium
	}
	return TierStandard
}

// PricingPlan describes one purchasable subscription plan.
type PricingPlan struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Price       int      `json:"price"`
	Period      string   `json:"period"` // "month" or "year"
	Features    []string `json:"features"`
	Recommended bool     `json:"recommended"`
}
