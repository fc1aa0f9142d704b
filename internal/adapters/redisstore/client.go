// Package redisstore — Redis-хранилища пайплайна: зашифрованные сессии
// Telegram и распределение чатов по аккаунтам.
package redisstore

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Open подключается к Redis по URL (redis://[:password@]host:port/db)
// и проверяет соединение.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}
