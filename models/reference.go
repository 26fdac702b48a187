package models

import "encoding/json"

// CheckoutReference is the opaque payload attached to a processor session
// and echoed back unmodified when the payment completes. It correlates a
// completed payment to an email/plan/duration and must never be trusted as
// authenticated data.
type CheckoutReference struct {
	Email    string   `json:"e"`
	Plan     Plan     `json:"p,omitempty"`
	Duration Duration `json:"d,omitempty"`
}

// Encode serializes the reference for the processor's external_reference
// field.
func (r CheckoutReference) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(data)
}

// ParseCheckoutReference decodes an echoed reference. Parse failure yields
// an empty reference. The duration falls back to the smallest grant so a
// garbled reference can never over-provision; the plan is left as parsed,
// because the right fallback differs per flow: one-time purchases assume
// the smallest plan, subscriptions infer it from the recurring amount. A
// missing email cannot be recovered and callers must drop the event.
func ParseCheckoutReference(raw string) CheckoutReference {
	var ref CheckoutReference
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &ref)
	}
	if ref.Duration == "" {
		ref.Duration = Duration1M
	}
	return ref
}
