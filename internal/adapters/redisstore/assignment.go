package redisstore

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// AssignmentStore хранит распределение чатов по аккаунтам: по Redis-сету на
// аккаунт плюс хеш с метаданными последнего пересчёта. Каждая перезапись
// публикует уведомление, по которому слушатели перечитывают свой набор.
type AssignmentStore struct {
	client *redis.Client
	prefix string
}

// NewAssignmentStore собирает хранилище. prefix — общий префикс ключей,
// например "telegram:assignment:".
func NewAssignmentStore(client *redis.Client, prefix string) *AssignmentStore {
	return &AssignmentStore{client: client, prefix: prefix}
}

func (s *AssignmentStore) accountKey(accountID string) string {
	return s.prefix + "account:" + accountID
}

func (s *AssignmentStore) metaKey() string {
	return s.prefix + "meta"
}

// Channel — имя pub/sub-канала уведомлений о пересчёте.
func (s *AssignmentStore) Channel() string {
	return s.prefix + "notify"
}

// Allowed возвращает набор чатов, закреплённых за аккаунтом.
func (s *AssignmentStore) Allowed(ctx context.Context, accountID string) (map[int64]struct{}, error) {
	members, err := s.client.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read assignment set")
	}
	allowed := make(map[int64]struct{}, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		allowed[id] = struct{}{}
	}
	return allowed, nil
}

// ReadAll читает текущее распределение для перечисленных аккаунтов.
func (s *AssignmentStore) ReadAll(ctx context.Context, accountIDs []string) (map[string][]int64, error) {
	out := make(map[string][]int64, len(accountIDs))
	for _, accountID := range accountIDs {
		allowed, err := s.Allowed(ctx, accountID)
		if err != nil {
			return nil, err
		}
		chats := make([]int64, 0, len(allowed))
		for id := range allowed {
			chats = append(chats, id)
		}
		out[accountID] = chats
	}
	return out, nil
}

// WriteAll атомарно перезаписывает распределение: для каждого аккаунта
// DEL+SADD его сета, инкремент версии и сводка последнего пересчёта — всё
// одним TxPipeline. Уведомление публикуется после успешной записи и не
// влияет на её исход.
func (s *AssignmentStore) WriteAll(ctx context.Context, assignments map[string][]int64, summary string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for accountID, chats := range assignments {
			key := s.accountKey(accountID)
			pipe.Del(ctx, key)
			if len(chats) == 0 {
				continue
			}
			members := make([]any, len(chats))
			for i, id := range chats {
				members[i] = strconv.FormatInt(id, 10)
			}
			pipe.SAdd(ctx, key, members...)
		}
		pipe.HIncrBy(ctx, s.metaKey(), "version", 1)
		pipe.HSet(ctx, s.metaKey(),
			"last_summary", summary,
			"updated_at", time.Now().UTC().Format(time.RFC3339),
		)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "write assignments")
	}

	// Best effort: слушатели и так перечитывают набор по таймеру.
	_ = s.client.Publish(ctx, s.Channel(), "updated").Err()
	return nil
}

// Version возвращает счётчик пересчётов. Ноль, если записей ещё не было.
func (s *AssignmentStore) Version(ctx context.Context) (int64, error) {
	value, err := s.client.HGet(ctx, s.metaKey(), "version").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read version")
	}
	return strconv.ParseInt(value, 10, 64)
}

// Subscribe подписывается на уведомления о пересчёте.
func (s *AssignmentStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.Channel())
}
