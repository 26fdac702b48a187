package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bims.app/cloud/handlers"
	"bims.app/cloud/internal/config"
	"bims.app/cloud/internal/mercadopago"
	"bims.app/cloud/license"
	"bims.app/cloud/models"
	"bims.app/cloud/storage"
)

// Integration tests that exercise complete purchase workflows end-to-end
// against in-memory storage and a scripted processor.

type scriptedProcessor struct {
	checkouts []mercadopago.CheckoutParams

	payments           map[string]*mercadopago.Payment
	preapprovals       map[string]*mercadopago.Preapproval
	authorizedPayments map[string]*mercadopago.AuthorizedPayment
}

func newScriptedProcessor() *scriptedProcessor {
	return &scriptedProcessor{
		payments:           make(map[string]*mercadopago.Payment),
		preapprovals:       make(map[string]*mercadopago.Preapproval),
		authorizedPayments: make(map[string]*mercadopago.AuthorizedPayment),
	}
}

func (p *scriptedProcessor) CreateCheckout(ctx context.Context, params mercadopago.CheckoutParams) (*mercadopago.Session, error) {
	p.checkouts = append(p.checkouts, params)
	return &mercadopago.Session{ID: "pref-1", InitPoint: "https://mp.example/init"}, nil
}

func (p *scriptedProcessor) CreateSubscription(ctx context.Context, params mercadopago.SubscriptionParams) (*mercadopago.Session, error) {
	return &mercadopago.Session{ID: "pre-1", InitPoint: "https://mp.example/init"}, nil
}

func (p *scriptedProcessor) GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error) {
	if payment, ok := p.payments[id]; ok {
		return payment, nil
	}
	return nil, errors.New("payment not found")
}

func (p *scriptedProcessor) GetPreapproval(ctx context.Context, id string) (*mercadopago.Preapproval, error) {
	if pre, ok := p.preapprovals[id]; ok {
		return pre, nil
	}
	return nil, errors.New("preapproval not found")
}

func (p *scriptedProcessor) GetAuthorizedPayment(ctx context.Context, id string) (*mercadopago.AuthorizedPayment, error) {
	if ap, ok := p.authorizedPayments[id]; ok {
		return ap, nil
	}
	return nil, errors.New("authorized payment not found")
}

func newIntegrationServer() (*handlers.Server, *storage.MemoryStorage, *storage.MemoryIdentity, *scriptedProcessor) {
	cfg := &config.Config{
		SiteURL:             "https://bims.app",
		MercadoPagoCurrency: "ARS",
	}

	store := storage.NewMemoryStorage()
	identity := storage.NewMemoryIdentity()
	processor := newScriptedProcessor()
	activator := license.NewActivator(identity, store, nil)

	return handlers.NewHTTPServer(cfg, store, identity, processor, activator), store, identity, processor
}

func post(server *handlers.Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	server.Router.ServeHTTP(w, req)
	return w
}

func TestFullWorkflow_CheckoutToValidation(t *testing.T) {
	server, store, identity, processor := newIntegrationServer()
	ctx := context.Background()

	// Step 1: the site requests a checkout session.
	w := post(server, "/api/v1/checkout", `{"email":"buyer@example.com","plan":"individual","duration":"3m"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Checkout failed with status %d: %s", w.Code, w.Body.String())
	}

	if len(processor.checkouts) != 1 {
		t.Fatalf("Expected 1 checkout session, got %d", len(processor.checkouts))
	}
	session := processor.checkouts[0]
	if session.Amount != 40 {
		t.Errorf("Expected amount 40, got %v", session.Amount)
	}
	if session.Title != "BIMS Individual – 3 meses" {
		t.Errorf("Expected catalog title, got '%s'", session.Title)
	}

	// Step 2: the buyer pays and the processor notifies us. The reference
	// comes back exactly as the checkout attached it.
	processor.payments["789"] = &mercadopago.Payment{
		ID:        "789",
		Status:    "approved",
		Reference: session.Reference,
		Amount:    40,
		Currency:  "ARS",
	}

	before := time.Now()
	w = post(server, "/api/v1/webhooks/mercadopago", `{"type":"payment","data":{"id":"789"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Webhook failed with status %d", w.Code)
	}

	uid, err := identity.LookupByEmail(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("Expected account to be created: %v", err)
	}

	user, _ := store.GetUser(ctx, uid)
	if user == nil || !user.Active {
		t.Fatalf("Expected active license, got %+v", user)
	}
	if user.LicenseTier != models.TierMonthly {
		t.Errorf("Expected tier Monthly, got '%s'", user.LicenseTier)
	}
	if user.MaxDevices != 1 {
		t.Errorf("Expected device cap 1, got %d", user.MaxDevices)
	}

	expectedExpiry := before.AddDate(0, 3, 0)
	if user.ExpiresAt.Before(expectedExpiry.Add(-time.Minute)) || user.ExpiresAt.After(expectedExpiry.Add(time.Minute)) {
		t.Errorf("Expected expiration near %v, got %v", expectedExpiry, user.ExpiresAt)
	}

	if entry, ok := user.Payments["789"]; !ok || entry.Amount != 40 {
		t.Errorf("Expected payment entry with amount 40, got %+v", user.Payments)
	}

	// Step 3: a duplicate delivery of the same notification changes nothing.
	firstExpiry := user.ExpiresAt
	post(server, "/api/v1/webhooks/mercadopago", `{"type":"payment","data":{"id":"789"}}`)

	user, _ = store.GetUser(ctx, uid)
	if !user.ExpiresAt.Equal(firstExpiry) {
		t.Errorf("Expected expiration unchanged at %v, got %v", firstExpiry, user.ExpiresAt)
	}
	if len(user.Payments) != 1 {
		t.Errorf("Expected a single payment entry, got %d", len(user.Payments))
	}

	// Step 4: the desktop app validates the license.
	w = post(server, "/api/v1/licenses/validate", `{"email":"buyer@example.com","device_id":"device-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Validation failed with status %d", w.Code)
	}

	var validation handlers.ValidateResponse
	if err := json.NewDecoder(w.Body).Decode(&validation); err != nil {
		t.Fatalf("Failed to decode validation response: %v", err)
	}
	if !validation.Valid {
		t.Errorf("Expected valid license, got reason '%s'", validation.Reason)
	}

	// Step 5: a second device is over the individual cap.
	w = post(server, "/api/v1/licenses/validate", `{"email":"buyer@example.com","device_id":"device-2"}`)

	validation = handlers.ValidateResponse{}
	_ = json.NewDecoder(w.Body).Decode(&validation)
	if validation.Valid {
		t.Error("Expected second device to be rejected on the individual plan")
	}
	if validation.Reason != "Device limit reached" {
		t.Errorf("Expected reason 'Device limit reached', got '%s'", validation.Reason)
	}
}

func TestFullWorkflow_SubscriptionLifecycle(t *testing.T) {
	server, store, identity, processor := newIntegrationServer()
	ctx := context.Background()

	w := post(server, "/api/v1/subscriptions", `{"email":"sub@example.com","plan":"profesional"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Subscription checkout failed with status %d: %s", w.Code, w.Body.String())
	}

	// The buyer authorizes the preapproval.
	processor.preapprovals["pre-1"] = &mercadopago.Preapproval{
		ID:            "pre-1",
		Status:        "authorized",
		Reference:     `{"e":"sub@example.com","p":"profesional"}`,
		PayerEmail:    "sub@example.com",
		Amount:        25,
		Currency:      "ARS",
		NextBillingAt: time.Now().AddDate(0, 1, 0),
	}
	post(server, "/api/v1/webhooks/mercadopago", `{"type":"subscription_preapproval","data":{"id":"pre-1"}}`)

	uid, err := identity.LookupByEmail(ctx, "sub@example.com")
	if err != nil {
		t.Fatalf("Expected account to be created: %v", err)
	}

	user, _ := store.GetUser(ctx, uid)
	if user.Subscription == nil || user.Subscription.PreapprovalID != "pre-1" {
		t.Fatalf("Expected subscription state, got %+v", user.Subscription)
	}
	if user.MaxDevices != 3 {
		t.Errorf("Expected profesional device cap 3, got %d", user.MaxDevices)
	}
	afterAuthorization := user.ExpiresAt

	// A month later the first recurring charge lands.
	processor.authorizedPayments["ap-1"] = &mercadopago.AuthorizedPayment{
		ID:            "ap-1",
		Status:        "processed",
		PreapprovalID: "pre-1",
		Amount:        25,
		Currency:      "ARS",
	}
	post(server, "/api/v1/webhooks/mercadopago", `{"type":"subscription_authorized_payment","data":{"id":"ap-1"}}`)

	user, _ = store.GetUser(ctx, uid)
	if !user.ExpiresAt.After(afterAuthorization) {
		t.Errorf("Expected renewal to extend past %v, got %v", afterAuthorization, user.ExpiresAt)
	}
	if len(user.Payments) != 2 {
		t.Errorf("Expected entries for authorization and renewal, got %d", len(user.Payments))
	}
}
