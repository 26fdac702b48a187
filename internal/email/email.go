package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bims.app/cloud/internal/logger"
)

// The activation email rides on the identity provider's out-of-band email
// action endpoint: a password-reset email doubles as account activation for
// users created from a payment, since they never chose a password.
const defaultEndpoint = "https://identitytoolkit.googleapis.com/v1"

type Mailer struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func New(apiKey string) *Mailer {
	return &Mailer{
		APIKey:   apiKey,
		Endpoint: defaultEndpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SendActivation asks the identity provider to email a password-reset link
// to a newly created account. With no API key configured the feature is
// disabled; that is logged and not an error.
func (m *Mailer) SendActivation(ctx context.Context, to string) error {
	if m.APIKey == "" {
		logger.Warn("Activation email disabled, no identity API key configured", map[string]interface{}{
			"email": to,
		})
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"requestType": "PASSWORD_RESET",
		"email":       to,
	})
	if err != nil {
		return fmt.Errorf("marshal oob request: %w", err)
	}

	url := fmt.Sprintf("%s/accounts:sendOobCode?key=%s", m.Endpoint, m.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build oob request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send activation email: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("Failed to close oob response body", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("send activation email: status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
