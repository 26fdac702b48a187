package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/db"

	"bims.app/cloud/models"
)

// ErrUnchanged aborts a transactional update without writing anything.
// Mutation callbacks return it when the current record already reflects the
// event, e.g. a payment id that was delivered twice.
var ErrUnchanged = errors.New("storage: record unchanged")

// Storage persists per-user license records in the external database.
//
// UpdateUser applies the mutation atomically against the current record:
// the callback may run more than once if the record changed underneath it,
// so it must be pure. This is what keeps concurrent duplicate notifications
// for the same user from extending a license twice from the same stale
// base.
type Storage interface {
	GetUser(ctx context.Context, uid string) (*models.UserLicense, error)
	UpdateUser(ctx context.Context, uid string, mutate func(current *models.UserLicense) (*models.UserLicense, error)) (*models.UserLicense, error)
	Close() error
}

type FirebaseStorage struct {
	client *db.Client
}

func NewFirebaseStorage(ctx context.Context, app *firebase.App) (*FirebaseStorage, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open realtime database: %w", err)
	}
	return &FirebaseStorage{client: client}, nil
}

func (s *FirebaseStorage) userRef(uid string) *db.Ref {
	return s.client.NewRef("users/" + uid)
}

func (s *FirebaseStorage) GetUser(ctx context.Context, uid string) (*models.UserLicense, error) {
	var user *models.UserLicense
	if err := s.userRef(uid).Get(ctx, &user); err != nil {
		return nil, fmt.Errorf("failed to read user %s: %w", uid, err)
	}
	return user, nil
}

func (s *FirebaseStorage) UpdateUser(ctx context.Context, uid string, mutate func(current *models.UserLicense) (*models.UserLicense, error)) (*models.UserLicense, error) {
	var updated *models.UserLicense

	fn := func(tn db.TransactionNode) (interface{}, error) {
		var current *models.UserLicense
		if err := tn.Unmarshal(&current); err != nil {
			return nil, err
		}

		next, err := mutate(current)
		if err != nil {
			return nil, err
		}

		updated = next
		return next, nil
	}

	if err := s.userRef(uid).Transaction(ctx, fn); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil, ErrUnchanged
		}
		return nil, fmt.Errorf("failed to update user %s: %w", uid, err)
	}

	return updated, nil
}

func (s *FirebaseStorage) Close() error {
	return nil
}

// MemoryStorage backs tests and local runs.
type MemoryStorage struct {
	mu    sync.Mutex
	Users map[string]*models.UserLicense
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{Users: make(map[string]*models.UserLicense)}
}

func (m *MemoryStorage) GetUser(ctx context.Context, uid string) (*models.UserLicense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Users[uid].Clone(), nil
}

func (m *MemoryStorage) UpdateUser(ctx context.Context, uid string, mutate func(current *models.UserLicense) (*models.UserLicense, error)) (*models.UserLicense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := mutate(m.Users[uid].Clone())
	if err != nil {
		return nil, err
	}

	m.Users[uid] = next.Clone()
	return next, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
