package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/hashicorp/go-multierror"

	"bims.app/cloud/internal/logger"
	"bims.app/cloud/internal/mercadopago"
	"bims.app/cloud/models"
)

type CheckoutRequest struct {
	Email    string          `json:"email"`
	Plan     models.Plan     `json:"plan"`
	Duration models.Duration `json:"duration"`
}

type SubscriptionRequest struct {
	Email string      `json:"email"`
	Plan  models.Plan `json:"plan"`
}

type CheckoutResponse struct {
	InitPoint  string `json:"init_point"`
	SandboxURL string `json:"sandbox_url,omitempty"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CreateCheckout builds a one-time checkout session at the processor and
// returns its redirect URL.
func (s *Server) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var errs *multierror.Error
	if req.Email == "" {
		errs = multierror.Append(errs, errors.New("email is required"))
	}
	if req.Plan == "" {
		errs = multierror.Append(errs, errors.New("plan is required"))
	}
	if req.Duration == "" {
		errs = multierror.Append(errs, errors.New("duration is required"))
	}
	if err := errs.ErrorOrNil(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if !emailPattern.MatchString(req.Email) {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	entry, err := models.LookupCatalog(req.Plan, req.Duration)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid plan and duration combination")
		return
	}

	reference := models.CheckoutReference{
		Email:    req.Email,
		Plan:     req.Plan,
		Duration: req.Duration,
	}

	session, err := s.Processor.CreateCheckout(r.Context(), mercadopago.CheckoutParams{
		Title:           entry.Title,
		Amount:          entry.Amount,
		Currency:        s.Config.MercadoPagoCurrency,
		Email:           req.Email,
		Reference:       reference.Encode(),
		NotificationURL: s.Config.SiteURL + "/api/v1/webhooks/mercadopago",
		SuccessURL:      s.Config.SiteURL + "/pago/exitoso",
		PendingURL:      s.Config.SiteURL + "/pago/pendiente",
		FailureURL:      s.Config.SiteURL + "/pago/fallido",
	})
	if err != nil {
		// Processor error detail stays in the logs, not the response.
		logger.Error("Checkout session creation failed", map[string]interface{}{
			"error": err.Error(),
			"email": req.Email,
			"plan":  string(req.Plan),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Could not create checkout")
		return
	}

	logger.Info("Checkout session created", map[string]interface{}{
		"session_id": session.ID,
		"email":      req.Email,
		"plan":       string(req.Plan),
		"duration":   string(req.Duration),
		"amount":     entry.Amount,
	})

	writeJSON(w, http.StatusOK, CheckoutResponse{
		InitPoint:  session.InitPoint,
		SandboxURL: session.SandboxInitPoint,
	})
}

// CreateSubscription builds a recurring preapproval session with the first
// cycle free and returns its redirect URL.
func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var errs *multierror.Error
	if req.Email == "" {
		errs = multierror.Append(errs, errors.New("email is required"))
	}
	if req.Plan == "" {
		errs = multierror.Append(errs, errors.New("plan is required"))
	}
	if err := errs.ErrorOrNil(); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	if !emailPattern.MatchString(req.Email) {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	amount, ok := models.MonthlyPrice(req.Plan)
	if !ok {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid plan")
		return
	}

	reference := models.CheckoutReference{
		Email: req.Email,
		Plan:  req.Plan,
	}

	session, err := s.Processor.CreateSubscription(r.Context(), mercadopago.SubscriptionParams{
		Reason:    models.SubscriptionTitle(req.Plan),
		Amount:    amount,
		Currency:  s.Config.MercadoPagoCurrency,
		Email:     req.Email,
		Reference: reference.Encode(),
		BackURL:   s.Config.SiteURL + "/pago/exitoso",
	})
	if err != nil {
		logger.Error("Subscription session creation failed", map[string]interface{}{
			"error": err.Error(),
			"email": req.Email,
			"plan":  string(req.Plan),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Could not create checkout")
		return
	}

	logger.Info("Subscription session created", map[string]interface{}{
		"session_id": session.ID,
		"email":      req.Email,
		"plan":       string(req.Plan),
		"amount":     amount,
	})

	writeJSON(w, http.StatusOK, CheckoutResponse{InitPoint: session.InitPoint})
}
