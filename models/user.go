package models

import "time"

// Payment kinds recorded in payment history.
const (
	PaymentKindOneTime      = "payment"
	PaymentKindSubscription = "subscription"
)

// UserLicense is the per-user record in the external database, keyed by the
// identity provider's uid. Created on the first successful payment for a
// previously unknown email, mutated in place on every payment or renewal
// after that, never deleted by this system.
type UserLicense struct {
	Email        string                  `json:"email"`
	Active       bool                    `json:"active"`
	LicenseTier  string                  `json:"licenseTier"`
	ExpiresAt    time.Time               `json:"expiresAt"`
	MaxDevices   int                     `json:"maxDevices"`
	CreatedAt    time.Time               `json:"createdAt"`
	UpdatedAt    time.Time               `json:"updatedAt"`
	Validations  int64                   `json:"validations"`
	Devices      map[string]time.Time    `json:"devices,omitempty"`
	Payments     map[string]PaymentEntry `json:"payments,omitempty"`
	Subscription *SubscriptionState      `json:"subscription,omitempty"`
}

// PaymentEntry is immutable once written, keyed by the processor-assigned
// payment id under the user record.
type PaymentEntry struct {
	Plan     Plan      `json:"plan"`
	Duration Duration  `json:"duration,omitempty"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	PaidAt   time.Time `json:"paidAt"`
	Kind     string    `json:"kind"`
}

// SubscriptionState is overwritten, not appended, on every renewal.
type SubscriptionState struct {
	PreapprovalID string    `json:"preapprovalId"`
	Plan          Plan      `json:"plan"`
	Status        string    `json:"status"`
	RenewedAt     time.Time `json:"renewedAt"`
	NextBillingAt time.Time `json:"nextBillingAt"`
}

// Clone returns a deep copy so transactional updates never mutate a record
// another caller still holds.
func (u *UserLicense) Clone() *UserLicense {
	if u == nil {
		return nil
	}

	cp := *u

	if u.Devices != nil {
		cp.Devices = make(map[string]time.Time, len(u.Devices))
		for k, v := range u.Devices {
			cp.Devices[k] = v
		}
	}

	if u.Payments != nil {
		cp.Payments = make(map[string]PaymentEntry, len(u.Payments))
		for k, v := range u.Payments {
			cp.Payments[k] = v
		}
	}

	if u.Subscription != nil {
		sub := *u.Subscription
		cp.Subscription = &sub
	}

	return &cp
}
