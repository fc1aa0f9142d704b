// Процесс ingestor: читает события чатов из обеих очередей (realtime и
// historical), прогоняет тексты через префильтр и LLM, сохраняет результат в
// Postgres и рассылает сигналы о лидах через Bot API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"leadpipe/internal/adapters/botapi"
	"leadpipe/internal/adapters/bus"
	"leadpipe/internal/adapters/llm"
	"leadpipe/internal/adapters/postgres"
	"leadpipe/internal/app"
	"leadpipe/internal/domain/prefilter"
	"leadpipe/internal/domain/routing"
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
	if err := env.RequireDatabase(); err != nil {
		logger.Fatal("config check failed", zap.Error(err))
	}
	if err := env.RequireOpenRouter(); err != nil {
		logger.Fatal("config check failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Connect(ctx, env.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer store.Close()

	classifier, err := llm.New(llm.Config{
		APIKey:   env.OpenRouterAPIKey,
		Model:    env.LLMModel,
		ProxyURL: env.OpenRouterProxyURL,
		MaxBatch: env.LLMBatchSize,
	})
	if err != nil {
		logger.Fatal("llm client init failed", zap.Error(err))
	}

	reload := time.Duration(env.PrefilterReloadSec) * time.Second
	routes, err := routing.NewHot(env.RoutingConfigFile, reload)
	if err != nil {
		logger.Fatal("routing config load failed", zap.Error(err))
	}
	filter := prefilter.New(env.PrefilterConfigFile, reload)

	realtime, err := config.LoadRealtime(env.RealtimeConfigFile)
	if err != nil {
		logger.Fatal("realtime config load failed", zap.Error(err))
	}

	// Уведомления опциональны: без токена бота пайплайн просто индексирует.
	var notifier app.Notifier
	if env.BotToken != "" {
		n := botapi.New(ctx, env.BotToken, env.NotifyRPS)
		defer n.Close()
		notifier = n
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN is not set; lead notifications are disabled")
	}

	conn, err := bus.Dial(env.BrokerURL)
	if err != nil {
		logger.Fatal("broker connect failed", zap.Error(err))
	}
	defer func() { _ = conn.Close() }()

	realtimeDeliveries, err := conn.Consume(bus.QueueRealtime, env.RealtimeExchange, env.ReadBatchSize)
	if err != nil {
		logger.Fatal("realtime queue init failed", zap.Error(err))
	}
	historicalDeliveries, err := conn.Consume(bus.QueueHistorical, env.HistoricalExchange, env.ReadBatchSize)
	if err != nil {
		logger.Fatal("historical queue init failed", zap.Error(err))
	}

	messages := make(chan app.Message)
	go forward(ctx, realtimeDeliveries, messages)
	go forward(ctx, historicalDeliveries, messages)

	stats := app.NewStats()
	go stats.ReportEvery(ctx, time.Minute)

	ingestor := app.NewIngestor(
		app.IngestorConfig{
			ReadBatchSize:    env.ReadBatchSize,
			ReadBatchTimeout: time.Duration(env.ReadBatchTimeoutSec) * time.Second,
			LLMBatchSize:     env.LLMBatchSize,
		},
		classifier, store, notifier, routes, filter,
		chatLocations(realtime), stats,
	)

	if err := ingestor.Run(ctx, messages); err != nil && ctx.Err() == nil {
		stop()
		logger.Fatal("ingestor stopped", zap.Error(err))
	}
	logger.Info("graceful shutdown complete")
}

// forward переливает доставки из канала amqp в общий канал индексатора.
// amqp.Delivery сам реализует контракт подтверждения.
func forward(ctx context.Context, in <-chan amqp.Delivery, out chan<- app.Message) {
	for d := range in {
		select {
		case <-ctx.Done():
			return
		case out <- app.Message{Body: d.Body, Ack: d}:
		}
	}
}

// chatLocations переводит локации из realtime-конфига в тип маршрутизатора.
func chatLocations(realtime *config.RealtimeConfig) map[int64][]routing.Location {
	byChat := realtime.LocationsByChat()
	out := make(map[int64][]routing.Location, len(byChat))
	for chat, locs := range byChat {
		converted := make([]routing.Location, 0, len(locs))
		for _, l := range locs {
			converted = append(converted, routing.Location{City: l.City, District: l.District})
		}
		out[chat] = converted
	}
	return out
}
