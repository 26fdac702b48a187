package models

import (
	"fmt"
)

// Plan identifies a pricing tier sold on the site.
type Plan string

const (
	PlanIndividual  Plan = "individual"
	PlanProfesional Plan = "profesional"
)

// Duration identifies how long a one-time purchase extends a license.
type Duration string

const (
	Duration1M  Duration = "1m"
	Duration3M  Duration = "3m"
	Duration6M  Duration = "6m"
	Duration12M Duration = "12m"
)

// License tiers are display labels, distinct from the numeric month count.
const (
	TierMonthly = "Monthly"
	TierAnnual  = "Annual"
)

type planInfo struct {
	Label        string
	MaxDevices   int
	MonthlyPrice float64
}

type durationInfo struct {
	Label  string
	Months int
	Tier   string
}

var plans = map[Plan]planInfo{
	PlanIndividual:  {Label: "Individual", MaxDevices: 1, MonthlyPrice: 15},
	PlanProfesional: {Label: "Profesional", MaxDevices: 3, MonthlyPrice: 25},
}

var durations = map[Duration]durationInfo{
	Duration1M:  {Label: "1 mes", Months: 1, Tier: TierMonthly},
	Duration3M:  {Label: "3 meses", Months: 3, Tier: TierMonthly},
	Duration6M:  {Label: "6 meses", Months: 6, Tier: TierMonthly},
	Duration12M: {Label: "12 meses", Months: 12, Tier: TierAnnual},
}

// prices is the single source of truth for one-time checkout amounts.
var prices = map[Plan]map[Duration]float64{
	PlanIndividual:  {Duration1M: 15, Duration3M: 40, Duration6M: 75, Duration12M: 140},
	PlanProfesional: {Duration1M: 25, Duration3M: 70, Duration6M: 130, Duration12M: 240},
}

// CatalogEntry describes one purchasable (plan, duration) combination.
type CatalogEntry struct {
	Plan        Plan
	Duration    Duration
	Title       string
	Amount      float64
	Months      int
	LicenseTier string
	MaxDevices  int
}

// LookupCatalog resolves a (plan, duration) pair against the catalog.
func LookupCatalog(plan Plan, duration Duration) (*CatalogEntry, error) {
	pi, planOK := plans[plan]
	di, durationOK := durations[duration]
	if !planOK || !durationOK {
		return nil, fmt.Errorf("invalid plan/duration combination: %s/%s", plan, duration)
	}

	amount, ok := prices[plan][duration]
	if !ok {
		return nil, fmt.Errorf("no price for combination: %s/%s", plan, duration)
	}

	return &CatalogEntry{
		Plan:        plan,
		Duration:    duration,
		Title:       fmt.Sprintf("BIMS %s – %s", pi.Label, di.Label),
		Amount:      amount,
		Months:      di.Months,
		LicenseTier: di.Tier,
		MaxDevices:  pi.MaxDevices,
	}, nil
}

// KnownPlan reports whether plan names a catalog entry.
func KnownPlan(plan Plan) bool {
	_, ok := plans[plan]
	return ok
}

// MonthlyPrice returns the recurring subscription amount for a plan.
func MonthlyPrice(plan Plan) (float64, bool) {
	pi, ok := plans[plan]
	if !ok {
		return 0, false
	}
	return pi.MonthlyPrice, true
}

// SubscriptionTitle is the reason string shown on the recurring charge.
func SubscriptionTitle(plan Plan) string {
	pi, ok := plans[plan]
	if !ok {
		return "BIMS"
	}
	return fmt.Sprintf("BIMS %s – suscripción mensual", pi.Label)
}

// InferPlan maps a recurring transaction amount back to a plan. Preapproval
// payloads do not carry the original plan token reliably, so the amount is
// the only usable signal.
func InferPlan(amount float64) Plan {
	if amount >= plans[PlanProfesional].MonthlyPrice {
		return PlanProfesional
	}
	return PlanIndividual
}

// MaxDevices returns the device cap for a plan. Unknown plans get the
// smallest cap rather than an error.
func MaxDevices(plan Plan) int {
	pi, ok := plans[plan]
	if !ok {
		return 1
	}
	return pi.MaxDevices
}
