// Процесс scheduler: периодические задачи пайплайна (пересчёт распределения
// чатов, бутстрап и полное пересканирование истории) плюс HTTP-фасад для
// ручной постановки заданий на докачку.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"leadpipe/internal/adapters/bus"
	"leadpipe/internal/adapters/postgres"
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
	if err := env.RequireDatabase(); err != nil {
		logger.Fatal("config check failed", zap.Error(err))
	}
	if err := env.RequireTelegram(); err != nil {
		logger.Fatal("config check failed", zap.Error(err))
	}

	realtime, err := config.LoadRealtime(env.RealtimeConfigFile)
	if err != nil {
		logger.Fatal("realtime config load failed", zap.Error(err))
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
	assignments := redisstore.NewAssignmentStore(rdb, env.AssignmentPrefix)

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

	jobs, err := conn.QueuePublisher(bus.QueueBackfillJobs)
	if err != nil {
		logger.Fatal("backfill queue init failed", zap.Error(err))
	}
	defer func() { _ = jobs.Close() }()

	scheduler := app.NewScheduler(app.SchedulerOptions{
		Realtime:    realtime,
		Store:       store,
		Assignments: assignments,
		Dialogs: &app.DialogEligibility{
			APIID:    env.APIID,
			APIHash:  env.APIHash,
			Sessions: sessions,
		},
		Jobs: jobs,

		WeightAlpha:     env.WeightAlpha,
		WeightMin:       env.WeightMin,
		CapacityDefault: env.CapacityDefault,
		HistoryDays:     env.HistoryDays,

		CronReassign:   env.CronReassign,
		CronBootstrap:  env.CronBootstrap,
		CronFullRescan: env.CronFullRescan,
	})

	facade := app.NewFacade(fmt.Sprintf(":%d", env.APIPort), scheduler, env.HistoryDays)
	go func() {
		if err := facade.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("api facade stopped", zap.Error(err))
			stop()
		}
	}()

	if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		stop()
		logger.Fatal("scheduler stopped", zap.Error(err))
	}
	logger.Info("graceful shutdown complete")
}
