package telegram

import (
	"context"

	"leadpipe/internal/adapters/redisstore"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
)

// SessionStorage адаптирует Redis-хранилище сессий к контракту gotd.
type SessionStorage struct {
	store     *redisstore.SessionStore
	accountID string
}

// NewSessionStorage привязывает хранилище к конкретному аккаунту.
func NewSessionStorage(store *redisstore.SessionStore, accountID string) *SessionStorage {
	return &SessionStorage{store: store, accountID: accountID}
}

// LoadSession реализует session.Storage.
func (s *SessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	data, err := s.store.Get(ctx, s.accountID)
	if errors.Is(err, redisstore.ErrSessionNotFound) {
		return nil, tdsession.ErrNotFound
	}
	return data, err
}

// StoreSession реализует session.Storage.
func (s *SessionStorage) StoreSession(ctx context.Context, data []byte) error {
	return s.store.Put(ctx, s.accountID, data)
}
