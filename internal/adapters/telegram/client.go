package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"leadpipe/internal/adapters/redisstore"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	tdtelegram "github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

const stateFilePerm = 0o600

// Options — параметры сборки клиента одного аккаунта.
type Options struct {
	APIID     int
	APIHash   string
	AccountID string
	Sessions  *redisstore.SessionStore
	// Handler получает поток апдейтов; nil допустим для клиентов без
	// подписки (бэкфилл, разовые запросы).
	Handler tdtelegram.UpdateHandler
	// RPS ограничивает частоту MTProto-запросов; burst = 2*RPS.
	RPS int
}

// Client — MTProto-клиент аккаунта вместе с floodwait-ожидателем.
type Client struct {
	Raw    *tdtelegram.Client
	waiter *floodwait.Waiter
}

// NewClient собирает клиент gotd: сессия в Redis, floodwait и ratelimit
// middlewares, паспорт устройства.
func NewClient(opts Options) *Client {
	waiter := floodwait.NewWaiter()

	rps := opts.RPS
	if rps <= 0 {
		rps = 10
	}

	tdOpts := tdtelegram.Options{
		SessionStorage: NewSessionStorage(opts.Sessions, opts.AccountID),
		UpdateHandler:  opts.Handler,
		Middlewares: []tdtelegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(rps), rps*2),
		},
		Device: tdtelegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    "1.0.0",
		},
	}

	return &Client{
		Raw:    tdtelegram.NewClient(opts.APIID, opts.APIHash, tdOpts),
		waiter: waiter,
	}
}

// API возвращает низкоуровневый RPC-клиент.
func (c *Client) API() *tg.Client {
	return c.Raw.API()
}

// Run держит соединение и floodwait-ожидатель до отмены контекста. f
// вызывается после установления соединения.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.waiter.Run(ctx, func(ctx context.Context) error {
		return c.Raw.Run(ctx, f)
	})
}

// UpdatesState — менеджер апдейтов gotd с локальным bbolt-состоянием
// (pts/qts/seq), по файлу на аккаунт.
type UpdatesState struct {
	Manager *tgupdates.Manager
	db      *bbolt.DB
}

// NewUpdatesState открывает состояние апдейтов в stateDir и собирает
// менеджер поверх dispatcher'а.
func NewUpdatesState(stateDir, accountID string, handler tdtelegram.UpdateHandler) (*UpdatesState, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create state dir")
	}
	path := filepath.Join(stateDir, fmt.Sprintf("updates-%s.bolt", sanitizeName(accountID)))
	db, err := bbolt.Open(path, stateFilePerm, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open state storage")
	}

	manager := tgupdates.New(tgupdates.Config{
		Handler: handler,
		Storage: boltstor.NewStateStorage(db),
	})
	return &UpdatesState{Manager: manager, db: db}, nil
}

// Close закрывает файл состояния.
func (s *UpdatesState) Close() error {
	return s.db.Close()
}

// sanitizeName приводит идентификатор аккаунта к безопасному имени файла.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
