package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bims.app/cloud/internal/logger"
	"bims.app/cloud/models"
	"bims.app/cloud/storage"
)

// Grant describes the license parameters one payment or renewal confers,
// derived from plan+duration before being applied to a user record.
type Grant struct {
	Plan        models.Plan
	Duration    models.Duration
	LicenseTier string
	Months      int
	MaxDevices  int

	PaymentID     string
	PreapprovalID string
	Kind          string
	Amount        float64
	Currency      string

	SubscriptionStatus string
	NextBillingAt      time.Time
}

// Mailer sends the activation email to newly created accounts.
type Mailer interface {
	SendActivation(ctx context.Context, email string) error
}

type Result struct {
	UID       string
	Created   bool
	Skipped   bool
	ExpiresAt time.Time
}

// Activator applies license grants to user records. Clients are injected so
// tests can run against in-memory fakes.
type Activator struct {
	Identity storage.Identity
	Store    storage.Storage
	Mailer   Mailer

	// Now is swappable in tests.
	Now func() time.Time
}

func NewActivator(identity storage.Identity, store storage.Storage, mailer Mailer) *Activator {
	return &Activator{
		Identity: identity,
		Store:    store,
		Mailer:   mailer,
		Now:      time.Now,
	}
}

// Activate finds or creates the account for email and extends its license
// by the grant.
//
// The extension base is the current expiration when it is still in the
// future, otherwise now: paying again before expiring never loses remaining
// time, and a lapsed license restarts from the payment moment. Month
// arithmetic is raw calendar increment; day-of-month overflow rolls into
// the next month.
//
// The whole mutation, including the duplicate-payment-id check, runs inside
// one transactional update, so a notification delivered twice cannot extend
// the license twice.
func (a *Activator) Activate(ctx context.Context, email string, grant Grant) (*Result, error) {
	uid, err := a.Identity.LookupByEmail(ctx, email)
	created := false
	if errors.Is(err, storage.ErrUserNotFound) {
		uid, err = a.Identity.CreateUser(ctx, email, randomPassword())
		if err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		created = true

		logger.Info("Created new user for license activation", map[string]interface{}{
			"email": email,
			"uid":   uid,
		})
	} else if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	now := a.Now()

	updated, err := a.Store.UpdateUser(ctx, uid, func(current *models.UserLicense) (*models.UserLicense, error) {
		user := current
		if user == nil {
			user = &models.UserLicense{
				CreatedAt:   now,
				Validations: 0,
				Devices:     make(map[string]time.Time),
			}
		}

		if grant.PaymentID != "" {
			if _, recorded := user.Payments[grant.PaymentID]; recorded {
				return nil, storage.ErrUnchanged
			}
		}

		base := now
		if user.ExpiresAt.After(now) {
			base = user.ExpiresAt
		}

		user.Email = email
		user.Active = true
		user.LicenseTier = grant.LicenseTier
		user.MaxDevices = grant.MaxDevices
		user.ExpiresAt = base.AddDate(0, grant.Months, 0)
		user.UpdatedAt = now

		if grant.PaymentID != "" {
			if user.Payments == nil {
				user.Payments = make(map[string]models.PaymentEntry)
			}
			user.Payments[grant.PaymentID] = models.PaymentEntry{
				Plan:     grant.Plan,
				Duration: grant.Duration,
				Amount:   grant.Amount,
				Currency: grant.Currency,
				PaidAt:   now,
				Kind:     grant.Kind,
			}
		}

		if grant.PreapprovalID != "" {
			user.Subscription = &models.SubscriptionState{
				PreapprovalID: grant.PreapprovalID,
				Plan:          grant.Plan,
				Status:        grant.SubscriptionStatus,
				RenewedAt:     now,
				NextBillingAt: grant.NextBillingAt,
			}
		}

		return user, nil
	})

	if errors.Is(err, storage.ErrUnchanged) {
		logger.Info("Duplicate payment delivery ignored", map[string]interface{}{
			"email":      email,
			"payment_id": grant.PaymentID,
		})
		return &Result{UID: uid, Created: created, Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update license: %w", err)
	}

	logger.Info("License extended", map[string]interface{}{
		"email":      email,
		"uid":        uid,
		"months":     grant.Months,
		"tier":       grant.LicenseTier,
		"expires_at": updated.ExpiresAt.Format(time.RFC3339),
	})

	if created && a.Mailer != nil {
		// Fire-and-forget: a failed activation email never fails the
		// activation itself.
		if mailErr := a.Mailer.SendActivation(ctx, email); mailErr != nil {
			logger.Error("Failed to send activation email", map[string]interface{}{
				"email": email,
				"error": mailErr.Error(),
			})
		}
	}

	return &Result{UID: uid, Created: created, ExpiresAt: updated.ExpiresAt}, nil
}

func randomPassword() string {
	return uuid.Must(uuid.NewRandom()).String()
}
