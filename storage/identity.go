package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/auth"
	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("storage: user not found")

// Identity resolves and creates accounts in the external identity provider.
type Identity interface {
	LookupByEmail(ctx context.Context, email string) (string, error)
	CreateUser(ctx context.Context, email, password string) (string, error)
}

type FirebaseIdentity struct {
	client *auth.Client
}

func NewFirebaseIdentity(ctx context.Context, app *firebase.App) (*FirebaseIdentity, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth client: %w", err)
	}
	return &FirebaseIdentity{client: client}, nil
}

func (f *FirebaseIdentity) LookupByEmail(ctx context.Context, email string) (string, error) {
	user, err := f.client.GetUserByEmail(ctx, email)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to look up %s: %w", email, err)
	}
	return user.UID, nil
}

func (f *FirebaseIdentity) CreateUser(ctx context.Context, email, password string) (string, error) {
	params := (&auth.UserToCreate{}).
		Email(email).
		Password(password).
		EmailVerified(false)

	user, err := f.client.CreateUser(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create user for %s: %w", email, err)
	}
	return user.UID, nil
}

// MemoryIdentity backs tests and local runs.
type MemoryIdentity struct {
	mu      sync.Mutex
	ByEmail map[string]string
}

func NewMemoryIdentity() *MemoryIdentity {
	return &MemoryIdentity{ByEmail: make(map[string]string)}
}

func (m *MemoryIdentity) LookupByEmail(ctx context.Context, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	uid, exists := m.ByEmail[email]
	if !exists {
		return "", ErrUserNotFound
	}
	return uid, nil
}

func (m *MemoryIdentity) CreateUser(ctx context.Context, email, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ByEmail[email]; exists {
		return "", fmt.Errorf("user %s already exists", email)
	}

	uid := uuid.Must(uuid.NewRandom()).String()
	m.ByEmail[email] = uid
	return uid, nil
}
