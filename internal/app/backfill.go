package app

import (
	"context"
	"encoding/json"
	"time"

	tgadapter "leadpipe/internal/adapters/telegram"
	"leadpipe/internal/infra/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

const publishMaxRetries = 5

// Watermarker отдаёт верхнюю границу уже проиндексированных сообщений чата.
type Watermarker interface {
	MaxMessageID(ctx context.Context, chatID int64) (int64, error)
}

// Backfiller докачивает историю чатов в historical-обменник. Глубина обхода
// ограничивается водяным знаком из базы, а для незнакомых чатов — горизонтом
// по дате.
type Backfiller struct {
	store     Watermarker
	publisher Publisher
	stats     *Stats
}

// NewBackfiller собирает бэкфиллер.
func NewBackfiller(store Watermarker, publisher Publisher, stats *Stats) *Backfiller {
	return &Backfiller{store: store, publisher: publisher, stats: stats}
}

// BackfillChat выгружает историю одного чата от новых сообщений к старым.
// days задаёт горизонт для чатов, которых ещё нет в базе; для известных
// чатов обход останавливается на последнем проиндексированном сообщении.
func (b *Backfiller) BackfillChat(ctx context.Context, api *tg.Client, dialog tgadapter.Dialog, days int) error {
	watermark, err := b.store.MaxMessageID(ctx, dialog.ChatID)
	if err != nil {
		return errors.Wrap(err, "read watermark")
	}

	var oldest time.Time
	if watermark == 0 && days > 0 {
		oldest = time.Now().UTC().AddDate(0, 0, -days)
	}

	logger.Logger().Info("backfill: chat started",
		zap.Int64("chat", dialog.ChatID),
		zap.String("title", dialog.Title),
		zap.Int64("watermark", watermark),
		zap.Int("days", days))

	published := 0
	err = tgadapter.ForEachHistory(ctx, api, dialog.Input, watermark, oldest, func(msg *tg.Message) error {
		payload := tgadapter.BuildPayload(tgadapter.EventHistoricalMessage, msg, "", dialog.Username)
		body, merr := json.Marshal(payload)
		if merr != nil {
			return errors.Wrap(merr, "marshal payload")
		}
		if perr := b.publishWithRetry(ctx, body); perr != nil {
			return perr
		}
		published++
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "backfill chat %d", dialog.ChatID)
	}

	if b.stats != nil {
		b.stats.Received(published)
	}
	logger.Logger().Info("backfill: chat finished",
		zap.Int64("chat", dialog.ChatID), zap.Int("published", published))
	return nil
}

// publishWithRetry публикует событие с экспоненциальным backoff: временная
// недоступность брокера не должна обнулять длинный обход истории.
func (b *Backfiller) publishWithRetry(ctx context.Context, body []byte) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), publishMaxRetries), ctx)
	return backoff.Retry(func() error {
		return b.publisher.Publish(ctx, body)
	}, policy)
}
