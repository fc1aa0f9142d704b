package redisstore

import (
	"context"

	"leadpipe/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound — в Redis нет сессии для аккаунта.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore хранит сессии MTProto в Redis, по ключу на аккаунт.
// Значения шифруются AES-GCM; незашифрованные значения, оставшиеся от
// старых выгрузок, читаются как есть.
type SessionStore struct {
	client *redis.Client
	cipher *Cipher
	prefix string
}

// NewSessionStore собирает хранилище. prefix — общий префикс ключей,
// например "telegram:sessions:".
func NewSessionStore(client *redis.Client, cipher *Cipher, prefix string) *SessionStore {
	return &SessionStore{client: client, cipher: cipher, prefix: prefix}
}

func (s *SessionStore) key(accountID string) string {
	return s.prefix + accountID
}

// Get читает и расшифровывает сессию аккаунта.
func (s *SessionStore) Get(ctx context.Context, accountID string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}

	if plaintext, ok := s.cipher.Open(value); ok {
		return plaintext, nil
	}
	// Значение не расшифровалось: сессия, записанная до включения
	// шифрования. Читаем сырые байты.
	logger.Warnf("session for %s is stored unencrypted", accountID)
	return []byte(value), nil
}

// Put шифрует и сохраняет сессию аккаунта без TTL.
func (s *SessionStore) Put(ctx context.Context, accountID string, session []byte) error {
	sealed, err := s.cipher.Seal(session)
	if err != nil {
		return errors.Wrap(err, "seal session")
	}
	if err := s.client.Set(ctx, s.key(accountID), sealed, 0).Err(); err != nil {
		return errors.Wrap(err, "set session")
	}
	return nil
}
