// Процесс backfill: воркеры разбирают очередь backfill_jobs, поднимают
// MTProto-клиент аккаунта-исполнителя и докачивают историю чата в
// historical-обменник.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"leadpipe/internal/adapters/bus"
	"leadpipe/internal/adapters/postgres"
	"leadpipe/internal/adapters/redisstore"
	tgadapter "leadpipe/internal/adapters/telegram"
	"leadpipe/internal/app"
	"leadpipe/internal/infra/config"
	"leadpipe/internal/infra/logger"
)

func main() {
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()
	logger.Init(env.LogLevel)
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}
	if err := env.RequireTelegram(); err != nil {
		logger.Fatal("config check failed", zap.Error(err))
	}
	if err := env.RequireDatabase(); err != nil {
		logger.Fatal("config check failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Connect(ctx, env.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer store.Close()

	rdb, err := redisstore.Open(ctx, env.RedisURL)
	if err != nil {
		logger.Fatal("redis connect failed", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	cipher, err := redisstore.NewCipher(env.SessionCryptoKey)
	if err != nil {
		logger.Fatal("session cipher init failed", zap.Error(err))
	}
	sessions := redisstore.NewSessionStore(rdb, cipher, env.SessionPrefix)

	conn, err := bus.Dial(env.BrokerURL)
	if err != nil {
		logger.Fatal("broker connect failed", zap.Error(err))
	}
	defer func() { _ = conn.Close() }()

	publisher, err := conn.FanoutPublisher(env.HistoricalExchange)
	if err != nil {
		logger.Fatal("historical exchange init failed", zap.Error(err))
	}
	defer func() { _ = publisher.Close() }()

	// Prefetch равен числу воркеров: каждый держит не больше одного задания.
	jobs, err := conn.Consume(bus.QueueBackfillJobs, "", env.BackfillWorkers)
	if err != nil {
		logger.Fatal("backfill queue init failed", zap.Error(err))
	}

	stats := app.NewStats()
	go stats.ReportEvery(ctx, time.Minute)
	backfiller := app.NewBackfiller(store, publisher, stats)

	w := &worker{
		env:        env,
		sessions:   sessions,
		backfiller: backfiller,
	}

	var wg sync.WaitGroup
	for i := 0; i < env.BackfillWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, jobs)
		}()
	}
	wg.Wait()
	logger.Info("graceful shutdown complete")
}

// worker обрабатывает задания на докачку, поднимая клиент нужного аккаунта
// на каждое задание.
type worker struct {
	env        config.EnvConfig
	sessions   *redisstore.SessionStore
	backfiller *app.Backfiller
}

func (w *worker) loop(ctx context.Context, jobs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-jobs:
			if !ok {
				return
			}
			w.handle(ctx, d)
		}
	}
}

func (w *worker) handle(ctx context.Context, d amqp.Delivery) {
	var job app.BackfillJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		logger.Error("backfill: malformed job dropped", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	err := w.run(ctx, job)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	if ctx.Err() != nil {
		// Остановка процесса: вернуть задание в очередь без шума.
		_ = d.Nack(false, true)
		return
	}

	if d.Redelivered {
		// Вторая неудача подряд: чат недоступен аккаунту или удалён.
		// Дальнейшие повторы забили бы очередь, задание отбрасывается.
		logger.Logger().Error("backfill: job dropped after retry",
			zap.String("account", job.AccountID),
			zap.String("chat", job.Chat), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	logger.Warn("backfill: job failed, requeueing",
		zap.String("account", job.AccountID),
		zap.String("chat", job.Chat), zap.Error(err))
	_ = d.Nack(false, true)
}

// run поднимает клиент аккаунта и докачивает историю одного чата.
func (w *worker) run(ctx context.Context, job app.BackfillJob) error {
	client := tgadapter.NewClient(tgadapter.Options{
		APIID:     w.env.APIID,
		APIHash:   w.env.APIHash,
		AccountID: job.AccountID,
		Sessions:  w.sessions,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		api := client.API()
		dialogs, err := tgadapter.FetchDialogs(ctx, api)
		if err != nil {
			return err
		}
		dialog, err := tgadapter.Resolve(ctx, api, dialogs, job.Chat)
		if err != nil {
			return err
		}
		return w.backfiller.BackfillChat(ctx, api, dialog, job.Days)
	})
}
