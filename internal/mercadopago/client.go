package mercadopago

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preapproval"
	"github.com/mercadopago/sdk-go/pkg/preference"
)

// API is the slice of the payment processor this service depends on.
// Handlers take the interface so tests can substitute a fake.
type API interface {
	CreateCheckout(ctx context.Context, params CheckoutParams) (*Session, error)
	CreateSubscription(ctx context.Context, params SubscriptionParams) (*Session, error)
	GetPayment(ctx context.Context, id string) (*Payment, error)
	GetPreapproval(ctx context.Context, id string) (*Preapproval, error)
	GetAuthorizedPayment(ctx context.Context, id string) (*AuthorizedPayment, error)
}

// Session is a processor-hosted payment flow the buyer gets redirected to.
type Session struct {
	ID               string
	InitPoint        string
	SandboxInitPoint string
}

type CheckoutParams struct {
	Title           string
	Amount          float64
	Currency        string
	Email           string
	Reference       string
	NotificationURL string
	SuccessURL      string
	PendingURL      string
	FailureURL      string
}

type SubscriptionParams struct {
	Reason    string
	Amount    float64
	Currency  string
	Email     string
	Reference string
	BackURL   string
}

type Payment struct {
	ID        string
	Status    string
	Reference string
	Amount    float64
	Currency  string
}

type Preapproval struct {
	ID            string
	Status        string
	Reference     string
	PayerEmail    string
	Amount        float64
	Currency      string
	NextBillingAt time.Time
}

type AuthorizedPayment struct {
	ID            string
	Status        string
	PreapprovalID string
	Amount        float64
	Currency      string
}

const restBaseURL = "https://api.mercadopago.com"

type Client struct {
	payments     payment.Client
	preferences  preference.Client
	preapprovals preapproval.Client

	// The authorized_payments endpoint has no SDK client and is called
	// over REST directly.
	token   string
	baseURL string
	http    *http.Client
}

var _ API = (*Client)(nil)

func NewClient(accessToken string) (*Client, error) {
	cfg, err := config.New(accessToken)
	if err != nil {
		return nil, fmt.Errorf("mercadopago config: %w", err)
	}

	return &Client{
		payments:     payment.NewClient(cfg),
		preferences:  preference.NewClient(cfg),
		preapprovals: preapproval.NewClient(cfg),
		token:        accessToken,
		baseURL:      restBaseURL,
		http:         &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *Client) CreateCheckout(ctx context.Context, params CheckoutParams) (*Session, error) {
	req := preference.Request{
		Items: []preference.ItemRequest{
			{
				Title:      params.Title,
				Quantity:   1,
				UnitPrice:  params.Amount,
				CurrencyID: params.Currency,
			},
		},
		Payer: &preference.PayerRequest{
			Email: params.Email,
		},
		BackURLs: &preference.BackURLsRequest{
			Success: params.SuccessURL,
			Pending: params.PendingURL,
			Failure: params.FailureURL,
		},
		AutoReturn:        "approved",
		ExternalReference: params.Reference,
		NotificationURL:   params.NotificationURL,
	}

	res, err := c.preferences.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}

	return &Session{
		ID:               res.ID,
		InitPoint:        res.InitPoint,
		SandboxInitPoint: res.SandboxInitPoint,
	}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionParams) (*Session, error) {
	req := preapproval.Request{
		Reason:            params.Reason,
		ExternalReference: params.Reference,
		PayerEmail:        params.Email,
		BackURL:           params.BackURL,
		AutoRecurring: &preapproval.AutoRecurringRequest{
			Frequency:         1,
			FrequencyType:     "months",
			TransactionAmount: params.Amount,
			CurrencyID:        params.Currency,
			// First cycle free.
			FreeTrial: &preapproval.FreeTrialRequest{
				Frequency:     1,
				FrequencyType: "months",
			},
		},
	}

	res, err := c.preapprovals.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create preapproval: %w", err)
	}

	return &Session{
		ID:        res.ID,
		InitPoint: res.InitPoint,
	}, nil
}

func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	numericID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("invalid payment id %q: %w", id, err)
	}

	res, err := c.payments.Get(ctx, numericID)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}

	return &Payment{
		ID:        strconv.Itoa(res.ID),
		Status:    res.Status,
		Reference: res.ExternalReference,
		Amount:    res.TransactionAmount,
		Currency:  res.CurrencyID,
	}, nil
}

func (c *Client) GetPreapproval(ctx context.Context, id string) (*Preapproval, error) {
	res, err := c.preapprovals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get preapproval %s: %w", id, err)
	}

	return &Preapproval{
		ID:            res.ID,
		Status:        res.Status,
		Reference:     res.ExternalReference,
		PayerEmail:    res.PayerEmail,
		Amount:        res.AutoRecurring.TransactionAmount,
		Currency:      res.AutoRecurring.CurrencyID,
		NextBillingAt: res.NextPaymentDate,
	}, nil
}

func (c *Client) GetAuthorizedPayment(ctx context.Context, id string) (*AuthorizedPayment, error) {
	url := fmt.Sprintf("%s/authorized_payments/%s", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build authorized payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get authorized payment %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("get authorized payment %s: status %d: %s", id, resp.StatusCode, string(body))
	}

	var payload struct {
		ID                json.Number `json:"id"`
		Status            string      `json:"status"`
		PreapprovalID     string      `json:"preapproval_id"`
		TransactionAmount float64     `json:"transaction_amount"`
		CurrencyID        string      `json:"currency_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode authorized payment %s: %w", id, err)
	}

	return &AuthorizedPayment{
		ID:            payload.ID.String(),
		Status:        payload.Status,
		PreapprovalID: payload.PreapprovalID,
		Amount:        payload.TransactionAmount,
		Currency:      payload.CurrencyID,
	}, nil
}
