package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"bims.app/cloud/internal/logger"
	"bims.app/cloud/internal/signature"
	"bims.app/cloud/license"
	"bims.app/cloud/models"
)

const maxWebhookBody = 64 * 1024

// Webhook receives MercadoPago notifications. It always answers 200 with an
// empty body: a non-200 makes the processor retry for days, and a retry can
// never fix a payload we already decided to drop. Failures are recorded in
// logs and counters instead.
func (s *Server) Webhook(w http.ResponseWriter, r *http.Request) {
	s.received.Inc()
	defer w.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		logger.Warn("Failed to read webhook body", map[string]interface{}{
			"error": err.Error(),
		})
		s.skipped.Inc()
		return
	}

	topic, id := classify(body, r.URL.Query())

	if !signature.Verify(s.Config.WebhookSecret, r.Header.Get("x-signature"), r.Header.Get("x-request-id"), id) {
		logger.Warn("Webhook signature verification failed", map[string]interface{}{
			"topic": topic,
			"id":    id,
		})
		s.skipped.Inc()
		return
	}
	if s.Config.WebhookSecret != "" && r.Header.Get("x-signature") == "" {
		logger.Warn("Unsigned webhook accepted with secret configured", map[string]interface{}{
			"topic": topic,
			"id":    id,
		})
	}

	if id == "" {
		logger.Warn("Webhook without resource id", map[string]interface{}{
			"topic": topic,
		})
		s.skipped.Inc()
		return
	}

	logger.Info("Webhook received", map[string]interface{}{
		"topic": topic,
		"id":    id,
	})

	var processed bool
	switch topic {
	case "payment":
		processed = s.handlePayment(r.Context(), id)
	case "preapproval", "subscription_preapproval":
		processed = s.activateSubscription(r.Context(), id, "", 0, "")
	case "subscription_authorized_payment":
		processed = s.handleRenewal(r.Context(), id)
	default:
		logger.Info("Ignoring webhook topic", map[string]interface{}{
			"topic": topic,
		})
	}

	if processed {
		s.processed.Inc()
	} else {
		s.skipped.Inc()
	}
}

// classify extracts the notification topic and resource id. MercadoPago is
// inconsistent across notification generations: newer deliveries carry a JSON
// body with type/data.id, older ones put topic/id in query parameters. The
// body wins when both are present.
func classify(body []byte, query url.Values) (topic, id string) {
	var payload struct {
		Type  string      `json:"type"`
		Topic string      `json:"topic"`
		ID    json.Number `json:"id"`
		Data  struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(body, &payload)

	topic = payload.Type
	if topic == "" {
		topic = payload.Topic
	}
	if topic == "" {
		topic = query.Get("type")
	}
	if topic == "" {
		topic = query.Get("topic")
	}

	id = payload.Data.ID.String()
	if id == "" {
		id = payload.ID.String()
	}
	if id == "" {
		id = query.Get("data.id")
	}
	if id == "" {
		id = query.Get("id")
	}

	return topic, id
}

// handlePayment resolves a one-time payment notification and extends the
// buyer's license. Returns true when a license was actually touched.
func (s *Server) handlePayment(ctx context.Context, paymentID string) bool {
	payment, err := s.Processor.GetPayment(ctx, paymentID)
	if err != nil {
		logger.Error("Failed to fetch payment", map[string]interface{}{
			"payment_id": paymentID,
			"error":      err.Error(),
		})
		return false
	}

	if payment.Status != "approved" {
		logger.Info("Skipping payment in non-approved status", map[string]interface{}{
			"payment_id": paymentID,
			"status":     payment.Status,
		})
		return false
	}

	ref := models.ParseCheckoutReference(payment.Reference)
	if ref.Email == "" {
		logger.Error("Approved payment without recoverable email", map[string]interface{}{
			"payment_id": paymentID,
			"reference":  payment.Reference,
		})
		return false
	}
	if !models.KnownPlan(ref.Plan) {
		ref.Plan = models.PlanIndividual
	}

	entry, err := models.LookupCatalog(ref.Plan, ref.Duration)
	if err != nil {
		logger.Error("Approved payment references unknown catalog entry", map[string]interface{}{
			"payment_id": paymentID,
			"plan":       string(ref.Plan),
			"duration":   string(ref.Duration),
		})
		return false
	}

	result, err := s.Activator.Activate(ctx, ref.Email, license.Grant{
		Plan:        entry.Plan,
		Duration:    entry.Duration,
		LicenseTier: entry.LicenseTier,
		Months:      entry.Months,
		MaxDevices:  entry.MaxDevices,
		PaymentID:   payment.ID,
		Kind:        models.PaymentKindOneTime,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
	})
	if err != nil {
		logger.Error("Failed to activate license for payment", map[string]interface{}{
			"payment_id": paymentID,
			"email":      ref.Email,
			"error":      err.Error(),
		})
		return false
	}

	return !result.Skipped
}

// activateSubscription resolves a preapproval and applies one month of the
// inferred plan. paymentID carries the authorized-payment id on renewals so
// each billing cycle gets its own idempotency key; it is empty on the initial
// authorization, where the preapproval id serves that role.
func (s *Server) activateSubscription(ctx context.Context, preapprovalID, paymentID string, amount float64, currency string) bool {
	pre, err := s.Processor.GetPreapproval(ctx, preapprovalID)
	if err != nil {
		logger.Error("Failed to fetch preapproval", map[string]interface{}{
			"preapproval_id": preapprovalID,
			"error":          err.Error(),
		})
		return false
	}

	if pre.Status != "authorized" {
		logger.Info("Skipping preapproval in non-authorized status", map[string]interface{}{
			"preapproval_id": preapprovalID,
			"status":         pre.Status,
		})
		return false
	}

	ref := models.ParseCheckoutReference(pre.Reference)
	email := ref.Email
	if email == "" {
		email = pre.PayerEmail
	}
	if email == "" {
		logger.Error("Authorized preapproval without recoverable email", map[string]interface{}{
			"preapproval_id": preapprovalID,
		})
		return false
	}

	// The plan token in the reference is advisory; whenever it is missing or
	// garbled the recurring amount decides the plan.
	plan := ref.Plan
	if !models.KnownPlan(plan) {
		plan = models.InferPlan(pre.Amount)
	}

	if paymentID == "" {
		paymentID = preapprovalID
	}
	if amount == 0 {
		amount = pre.Amount
	}
	if currency == "" {
		currency = pre.Currency
	}

	result, err := s.Activator.Activate(ctx, email, license.Grant{
		Plan:               plan,
		Duration:           models.Duration1M,
		LicenseTier:        models.TierMonthly,
		Months:             1,
		MaxDevices:         models.MaxDevices(plan),
		PaymentID:          paymentID,
		PreapprovalID:      preapprovalID,
		Kind:               models.PaymentKindSubscription,
		Amount:             amount,
		Currency:           currency,
		SubscriptionStatus: pre.Status,
		NextBillingAt:      pre.NextBillingAt,
	})
	if err != nil {
		logger.Error("Failed to activate subscription license", map[string]interface{}{
			"preapproval_id": preapprovalID,
			"email":          email,
			"error":          err.Error(),
		})
		return false
	}

	return !result.Skipped
}

// handleRenewal resolves a recurring charge and re-runs subscription
// activation keyed by the charge's own id.
func (s *Server) handleRenewal(ctx context.Context, authorizedPaymentID string) bool {
	charge, err := s.Processor.GetAuthorizedPayment(ctx, authorizedPaymentID)
	if err != nil {
		logger.Error("Failed to fetch authorized payment", map[string]interface{}{
			"authorized_payment_id": authorizedPaymentID,
			"error":                 err.Error(),
		})
		return false
	}

	if charge.Status != "processed" {
		logger.Info("Skipping authorized payment in non-processed status", map[string]interface{}{
			"authorized_payment_id": authorizedPaymentID,
			"status":                charge.Status,
		})
		return false
	}

	if charge.PreapprovalID == "" {
		logger.Error("Authorized payment without preapproval id", map[string]interface{}{
			"authorized_payment_id": authorizedPaymentID,
		})
		return false
	}

	return s.activateSubscription(ctx, charge.PreapprovalID, charge.ID, charge.Amount, charge.Currency)
}
