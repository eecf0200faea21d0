package payment

import (
	"strings"

	"github.com/lovebloom/lovebloom/app/models"
)

// PlanConfig is one sellable plan. Amounts are BRL centavos and live only
// here: client-submitted amounts are never consulted.
type PlanConfig struct {
	Plan        string
	Amount      int64
	Currency    string
	Name        string
	Description string
	PhotoLimit  int
}

var planTable = map[string]PlanConfig{
	models.PlanBasic: {
		Plan:        models.PlanBasic,
		Amount:      1990,
		Currency:    "brl",
		Name:        "Plano Memórias",
		Description: "Contador personalizado com até 2 fotos",
		PhotoLimit:  2,
	},
	models.PlanPremium: {
		Plan:        models.PlanPremium,
		Amount:      2990,
		Currency:    "brl",
		Name:        "Plano Eternidade",
		Description: "Contador personalizado com até 5 fotos e música",
		PhotoLimit:  5,
	},
}

// ResolvePlan returns the server-side configuration for a plan identifier.
func ResolvePlan(plan string) (PlanConfig, bool) {
	cfg, ok := planTable[strings.ToLower(strings.TrimSpace(plan))]
	return cfg, ok
}

// MapProviderStatus translates a provider payment status into the local
// payment status. The second return is false for unmapped statuses, which
// leave the local row untouched instead of crashing the webhook path.
func MapProviderStatus(providerStatus string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "approved", "completed", "paid":
		return models.PaymentStatusSucceeded, true
	case "rejected", "cancelled", "canceled", "expired":
		return models.PaymentStatusFailed, true
	case "pending", "in_process", "in_mediation", "unpaid", "no_payment_required":
		return models.PaymentStatusProcessing, true
	default:
		return "", false
	}
}
