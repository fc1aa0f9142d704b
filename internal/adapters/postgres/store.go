// Package postgres — хранилище проиндексированных сообщений и статистики
// активности чатов поверх pgx.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"leadpipe/internal/domain/classify"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// usernameLimit — ограничение колонок sender_username/chat_username.
const usernameLimit = 64

// MessageRow — одна строка таблицы messages, готовая к вставке.
type MessageRow struct {
	ChatID         int64
	MessageID      int64
	Text           string
	MessageDate    time.Time
	SenderID       int64
	SenderUsername string
	ChatUsername   string

	Intents     []string
	Domains     []classify.DomainTags
	IsSpam      bool
	Urgency     int
	NeedsReview bool
	Reasoning   string

	// LLMAnalysis — служебная сводка классификации (usage, ошибки разбора,
	// причина синтетики). OpenRouterResponse — сырой ответ completions.
	LLMAnalysis        json.RawMessage
	OpenRouterResponse json.RawMessage
}

// Store — пул подключений к базе сообщений.
type Store struct {
	pool *pgxpool.Pool
}

// Connect открывает пул по DATABASE_URL и проверяет доступность базы.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	return &Store{pool: pool}, nil
}

// Close закрывает пул.
func (s *Store) Close() {
	s.pool.Close()
}

const upsertMessageSQL = `
INSERT INTO messages (
	chat_id, message_id, text, message_date, sender_id,
	sender_username, chat_username,
	intents, domains, is_spam, urgency_score, needs_review, reasoning,
	llm_analysis, openrouter_response, indexed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (chat_id, message_id) DO NOTHING`

// UpsertMessages вставляет батч одним pgx.Batch внутри транзакции. Повторная
// доставка того же сообщения (chat_id, message_id) молча игнорируется, так что
// операция идемпотентна при requeue.
func (s *Store) UpsertMessages(ctx context.Context, rows []MessageRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	indexedAt := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, row := range rows {
		domains, err := json.Marshal(row.Domains)
		if err != nil {
			return errors.Wrapf(err, "marshal domains for %d:%d", row.ChatID, row.MessageID)
		}
		batch.Queue(upsertMessageSQL,
			row.ChatID,
			row.MessageID,
			row.Text,
			row.MessageDate.UTC(),
			row.SenderID,
			truncate(row.SenderUsername, usernameLimit),
			truncate(row.ChatUsername, usernameLimit),
			row.Intents,
			domains,
			row.IsSpam,
			row.Urgency,
			row.NeedsReview,
			row.Reasoning,
			rawOrNull(row.LLMAnalysis),
			rawOrNull(row.OpenRouterResponse),
			indexedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return errors.Wrap(err, "exec batch insert")
		}
	}
	if err := results.Close(); err != nil {
		return errors.Wrap(err, "close batch")
	}
	return tx.Commit(ctx)
}

// MaxMessageID возвращает водяной знак бэкфилла: максимальный message_id,
// уже проиндексированный для чата. Ноль, если чат базе неизвестен.
func (s *Store) MaxMessageID(ctx context.Context, chatID int64) (int64, error) {
	var maxID int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(message_id), 0) FROM messages WHERE chat_id = $1`,
		chatID,
	).Scan(&maxID)
	if err != nil {
		return 0, errors.Wrap(err, "query max message id")
	}
	return maxID, nil
}

// channelRatesSQL считает частоты сообщений по чатам. Короткое окно исключает
// записи, попавшие в индекс с отставанием больше 5 минут от даты сообщения:
// свежезалитый бэкфилл не должен раздувать «мгновенную» активность чата.
const channelRatesSQL = `
SELECT chat_id,
	COUNT(*) FILTER (
		WHERE message_date > now() - interval '15 minutes'
		  AND indexed_at - message_date <= interval '5 minutes'
	)::float8 / 15 AS per_min_15,
	COUNT(*) FILTER (
		WHERE message_date > now() - interval '24 hours'
	)::float8 / 1440 AS per_min_24h
FROM messages
WHERE message_date > now() - interval '24 hours'
GROUP BY chat_id`

// ChannelWeights считает вес каждого известного чата по двум окнам
// активности (см. Weight).
func (s *Store) ChannelWeights(ctx context.Context, alpha, min float64) (map[int64]float64, error) {
	rows, err := s.pool.Query(ctx, channelRatesSQL)
	if err != nil {
		return nil, errors.Wrap(err, "query channel rates")
	}
	defer rows.Close()

	weights := make(map[int64]float64)
	for rows.Next() {
		var r ChannelRates
		if err := rows.Scan(&r.ChatID, &r.PerMin15, &r.PerMin24h); err != nil {
			return nil, errors.Wrap(err, "scan channel rates")
		}
		weights[r.ChatID] = Weight(r, alpha, min)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate channel rates")
	}
	return weights, nil
}

// KnownChatsBefore возвращает чаты, у которых есть хотя бы одно сообщение
// старше cutoff. Чат без таких строк считается новым: пара свежих realtime-
// сообщений ещё не означает, что его история докачана.
func (s *Store) KnownChatsBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT chat_id FROM messages WHERE message_date < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query known chats")
	}
	defer rows.Close()

	var chats []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan chat id")
		}
		chats = append(chats, id)
	}
	return chats, rows.Err()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}

func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
