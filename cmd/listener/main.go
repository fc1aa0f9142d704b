// Процесс listener: слушает апдейты одного Telegram-аккаунта и публикует
// новые сообщения закреплённых за ним чатов в realtime-обменник.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leadpipe/internal/adapters/bus"
	"leadpipe/internal/adapters/redisstore"
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
	if env.AccountID == "" {
		logger.Fatal("env TELEGRAM_ACCOUNT_ID must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	assignments := redisstore.NewAssignmentStore(rdb, env.AssignmentPrefix)

	conn, err := bus.Dial(env.BrokerURL)
	if err != nil {
		logger.Fatal("broker connect failed", zap.Error(err))
	}
	defer func() { _ = conn.Close() }()

	publisher, err := conn.FanoutPublisher(env.RealtimeExchange)
	if err != nil {
		logger.Fatal("realtime exchange init failed", zap.Error(err))
	}
	defer func() { _ = publisher.Close() }()

	stats := app.NewStats()
	go stats.ReportEvery(ctx, time.Minute)

	listener := app.NewListener(app.ListenerOptions{
		APIID:       env.APIID,
		APIHash:     env.APIHash,
		AccountID:   env.AccountID,
		StateDir:    env.UpdatesStateDir,
		Sessions:    sessions,
		Assignments: assignments,
		Publisher:   publisher,
		Stats:       stats,
	})

	if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
		stop()
		logger.Fatal("listener stopped", zap.Error(err))
	}
	logger.Info("graceful shutdown complete")
}
