package app

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"leadpipe/internal/adapters/redisstore"
	tgadapter "leadpipe/internal/adapters/telegram"
	"leadpipe/internal/infra/logger"

	"github.com/go-faster/errors"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

const (
	// allowedRefreshInterval — периодическое обновление набора чатов на
	// случай пропущенного pub/sub-уведомления.
	allowedRefreshInterval = 30 * time.Second
	// reconnectDelay — минимальная пауза перед переподключением после
	// сетевого сбоя.
	reconnectDelay = 10 * time.Second
	// authLossSleep — пауза перед выходом при потере авторизации, чтобы
	// супервизор не рестартовал процесс в бесконечном цикле, пока оператор
	// не зальёт новую сессию.
	authLossSleep = time.Hour
)

// Publisher — публикация события в обменник.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// ListenerOptions — зависимости слушателя одного аккаунта.
type ListenerOptions struct {
	APIID     int
	APIHash   string
	AccountID string
	RPS       int
	StateDir  string

	Sessions    *redisstore.SessionStore
	Assignments *redisstore.AssignmentStore
	Publisher   Publisher
	Stats       *Stats
}

// Listener подписан на апдейты одного аккаунта и публикует новые сообщения
// закреплённых за ним чатов в realtime-обменник.
type Listener struct {
	opts ListenerOptions

	mu      sync.RWMutex
	allowed map[int64]struct{}
}

// NewListener собирает слушатель.
func NewListener(opts ListenerOptions) *Listener {
	return &Listener{
		opts:    opts,
		allowed: make(map[int64]struct{}),
	}
}

// Run держит соединение с Telegram до отмены контекста. Сетевые сбои
// переживаются переподключением; потеря авторизации — фатальна для процесса.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.refreshAllowed(ctx); err != nil {
		return errors.Wrap(err, "initial assignment read")
	}
	go l.watchAssignments(ctx)

	for {
		err := l.runOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()

		case isAuthLoss(err):
			// Сессия отозвана на стороне Telegram. Повторные подключения
			// бессмысленны и только злят антиспам: держим паузу и выходим.
			logger.Logger().Error("listener: authorization lost, session must be re-uploaded",
				zap.String("account", l.opts.AccountID), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(authLossSleep):
			}
			return err

		default:
			logger.Warn("listener: connection lost, reconnecting",
				zap.String("account", l.opts.AccountID), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
		}
	}
}

// runOnce поднимает клиент, менеджер апдейтов и блокируется до обрыва.
func (l *Listener) runOnce(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		return l.handleMessage(ctx, e, u.Message)
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		return l.handleMessage(ctx, e, u.Message)
	})

	state, err := tgadapter.NewUpdatesState(l.opts.StateDir, l.opts.AccountID, dispatcher)
	if err != nil {
		return err
	}
	defer state.Close()

	client := tgadapter.NewClient(tgadapter.Options{
		APIID:     l.opts.APIID,
		APIHash:   l.opts.APIHash,
		AccountID: l.opts.AccountID,
		Sessions:  l.opts.Sessions,
		Handler:   state.Manager,
		RPS:       l.opts.RPS,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Raw.Auth().Status(ctx)
		if err != nil {
			return errors.Wrap(err, "auth status")
		}
		if !status.Authorized {
			return errors.New("AUTH_KEY_UNREGISTERED: stored session is not authorized")
		}

		self, err := client.Raw.Self(ctx)
		if err != nil {
			return errors.Wrap(err, "self")
		}
		logger.Logger().Info("listener: connected",
			zap.String("account", l.opts.AccountID),
			zap.String("username", self.Username))

		return state.Manager.Run(ctx, client.API(), self.ID, tgupdates.AuthOptions{})
	})
}

// handleMessage фильтрует апдейт по набору закреплённых чатов и публикует
// полезную нагрузку в обменник.
func (l *Listener) handleMessage(ctx context.Context, e tg.Entities, msg tg.MessageClass) error {
	m, ok := msg.(*tg.Message)
	if !ok || m.Out {
		return nil
	}

	chatID := tgadapter.MarkedPeerID(m.PeerID)
	if chatID == 0 || !l.isAllowed(chatID) {
		return nil
	}

	l.opts.Stats.Received(1)
	payload := tgadapter.BuildPayload(tgadapter.EventNewMessage, m,
		senderUsername(e, m), chatUsername(e, m.PeerID))
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	if err := l.opts.Publisher.Publish(ctx, body); err != nil {
		// Ошибка публикации не должна ронять обработку апдейтов: событие
		// доедет бэкфиллом.
		l.opts.Stats.Failed(1)
		logger.Error("listener: publish failed",
			zap.Int64("chat", chatID), zap.Int("message", m.ID), zap.Error(err))
		return nil
	}
	l.opts.Stats.Published(1)
	return nil
}

// isAllowed проверяет чат по набору закреплённых. Пустой набор пропускает
// всё: до первой записи распределения слушатель работает по полному списку
// своих диалогов.
func (l *Listener) isAllowed(chatID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.allowed) == 0 {
		return true
	}
	_, ok := l.allowed[chatID]
	return ok
}

// watchAssignments обновляет набор чатов по pub/sub-уведомлениям и таймеру.
func (l *Listener) watchAssignments(ctx context.Context) {
	sub := l.opts.Assignments.Subscribe(ctx)
	defer sub.Close()

	ticker := time.NewTicker(allowedRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Channel():
		case <-ticker.C:
		}
		if err := l.refreshAllowed(ctx); err != nil {
			logger.Warn("listener: assignment refresh failed", zap.Error(err))
		}
	}
}

func (l *Listener) refreshAllowed(ctx context.Context) error {
	allowed, err := l.opts.Assignments.Allowed(ctx, l.opts.AccountID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.allowed = allowed
	l.mu.Unlock()
	l.opts.Stats.SetAllowedSize(len(allowed))
	logger.Debug("listener: assignment refreshed",
		zap.String("account", l.opts.AccountID), zap.Int("chats", len(allowed)))
	return nil
}

// senderUsername достаёт username автора из сущностей апдейта.
func senderUsername(e tg.Entities, m *tg.Message) string {
	peer, ok := m.GetFromID()
	if !ok {
		return ""
	}
	user, isUser := peer.(*tg.PeerUser)
	if !isUser {
		return ""
	}
	if u, found := e.Users[user.UserID]; found {
		return u.Username
	}
	return ""
}

// chatUsername достаёт username чата (публичные супергруппы и каналы).
func chatUsername(e tg.Entities, peer tg.PeerClass) string {
	channel, ok := peer.(*tg.PeerChannel)
	if !ok {
		return ""
	}
	if c, found := e.Channels[channel.ChannelID]; found {
		return c.Username
	}
	return ""
}

// isAuthLoss распознаёт невосстановимую потерю авторизации.
func isAuthLoss(err error) bool {
	if err == nil {
		return false
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_EXPIRED", "SESSION_REVOKED") {
		return true
	}
	// Статусная проверка возвращает текстовую ошибку с тем же кодом.
	return strings.Contains(err.Error(), "AUTH_KEY_UNREGISTERED")
}
