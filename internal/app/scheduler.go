package app

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"leadpipe/internal/domain/assign"
	"leadpipe/internal/infra/config"
	"leadpipe/internal/infra/logger"

	"github.com/adhocore/gronx"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

const (
	// schedulerTick — шаг проверки cron-выражений. Заметно меньше минуты,
	// чтобы не проскакивать границы минут при дрейфе таймера.
	schedulerTick = 30 * time.Second
	// newChatWindow: чат считается новым, пока у него нет сообщений старше
	// этого окна. Свежие realtime-сообщения не делают чат «известным» — его
	// история всё ещё не докачана.
	newChatWindow = 15 * time.Minute
)

// BackfillJob — задание на докачку истории одного чата, публикуемое в
// очередь backfill_jobs.
type BackfillJob struct {
	AccountID string `json:"account_id"`
	Chat      string `json:"chat"`
	Days      int    `json:"days"`
}

// SchedulerStore — доступ планировщика к базе сообщений.
type SchedulerStore interface {
	ChannelWeights(ctx context.Context, alpha, min float64) (map[int64]float64, error)
	KnownChatsBefore(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// EligibilityLister перечисляет чаты, доступные аккаунту (его диалоги).
type EligibilityLister interface {
	AllowedChats(ctx context.Context, accountID string) (map[int64]struct{}, error)
}

// AssignmentRW — чтение и перезапись распределения чатов.
type AssignmentRW interface {
	ReadAll(ctx context.Context, accountIDs []string) (map[string][]int64, error)
	WriteAll(ctx context.Context, assignments map[string][]int64, summary string) error
}

// SchedulerOptions — зависимости и расписания планировщика.
type SchedulerOptions struct {
	Realtime    *config.RealtimeConfig
	Store       SchedulerStore
	Assignments AssignmentRW
	Dialogs     EligibilityLister
	// Jobs — publisher очереди backfill_jobs.
	Jobs Publisher

	WeightAlpha     float64
	WeightMin       float64
	CapacityDefault float64
	HistoryDays     int

	CronReassign   string
	CronBootstrap  string
	CronFullRescan string
}

// Scheduler запускает периодические задачи пайплайна: пересчёт распределения
// чатов, бутстрап новых чатов и полное пересканирование истории.
type Scheduler struct {
	opts SchedulerOptions
	cron *gronx.Gronx

	// lastRun хранит минуту последнего запуска каждой задачи: IsDue на
	// 30-секундном тике иначе сработал бы дважды за минуту.
	lastRun map[string]time.Time
}

// NewScheduler собирает планировщик.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		opts:    opts,
		cron:    gronx.New(),
		lastRun: make(map[string]time.Time),
	}
}

// Run крутит цикл расписаний до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			s.maybeRun(ctx, now, "reassign", s.opts.CronReassign, s.reassign)
			s.maybeRun(ctx, now, "bootstrap", s.opts.CronBootstrap, s.bootstrap)
			s.maybeRun(ctx, now, "full_rescan", s.opts.CronFullRescan, s.fullRescan)
		}
	}
}

func (s *Scheduler) maybeRun(ctx context.Context, now time.Time, name, expr string, job func(ctx context.Context) error) {
	if expr == "" {
		return
	}
	minute := now.Truncate(time.Minute)
	if s.lastRun[name].Equal(minute) {
		return
	}
	due, err := s.cron.IsDue(expr, now)
	if err != nil {
		logger.Errorf("scheduler: bad cron expression for %s: %v", name, err)
		return
	}
	if !due {
		return
	}
	s.lastRun[name] = minute

	started := time.Now()
	if err := job(ctx); err != nil {
		logger.Logger().Error("scheduler: job failed",
			zap.String("job", name), zap.Error(err))
		return
	}
	logger.Logger().Info("scheduler: job finished",
		zap.String("job", name), zap.Duration("took", time.Since(started)))
}

// reassign пересчитывает распределение чатов по аккаунтам: веса из базы,
// решение задачи балансировки, атомарная перезапись в Redis со сводкой.
func (s *Scheduler) reassign(ctx context.Context) error {
	accounts := s.opts.Realtime.AccountIDs()
	if len(accounts) == 0 {
		return errors.New("no accounts configured")
	}
	chats := s.opts.Realtime.NumericChatIDs()
	if len(chats) == 0 {
		return errors.New("no chats configured")
	}

	weights, err := s.opts.Store.ChannelWeights(ctx, s.opts.WeightAlpha, s.opts.WeightMin)
	if err != nil {
		return errors.Wrap(err, "compute weights")
	}
	if weights == nil {
		weights = make(map[int64]float64, len(chats))
	}
	// Холодные чаты ещё не имеют строк в базе — даём им минимальный вес,
	// чтобы они не выпадали из распределения.
	for _, chat := range chats {
		if _, ok := weights[chat]; !ok {
			weights[chat] = s.opts.WeightMin
		}
	}

	// Аккаунт может слушать только чаты из собственного списка диалогов.
	// При ошибке чтения диалогов пересчёт отменяется целиком: предыдущее
	// распределение остаётся в силе.
	eligible := make(map[int64][]string, len(chats))
	for _, account := range accounts {
		dialogs, err := s.opts.Dialogs.AllowedChats(ctx, account)
		if err != nil {
			return errors.Wrapf(err, "dialogs for %s", account)
		}
		for _, chat := range chats {
			if _, ok := dialogs[chat]; ok {
				eligible[chat] = append(eligible[chat], account)
			}
		}
	}
	uncovered := 0
	for _, chat := range chats {
		if len(eligible[chat]) == 0 {
			uncovered++
			logger.Warn("scheduler: chat not in any account's dialogs",
				zap.Int64("chat", chat))
		}
	}

	capacities := make(map[string]float64, len(accounts))
	for _, account := range accounts {
		capacities[account] = s.opts.CapacityDefault
	}

	prev, err := s.opts.Assignments.ReadAll(ctx, accounts)
	if err != nil {
		return errors.Wrap(err, "read previous assignments")
	}

	next := assign.Solve(assign.Problem{
		Identities:      accounts,
		Chats:           chats,
		Eligible:        eligible,
		Weights:         weights,
		Capacities:      capacities,
		DefaultCapacity: s.opts.CapacityDefault,
	})

	summary := assign.Summary(prev, next, weights, len(chats))
	if err := s.opts.Assignments.WriteAll(ctx, next, summary); err != nil {
		return errors.Wrap(err, "write assignments")
	}

	adds, removes := assign.Diff(prev, next)
	logger.Logger().Info("scheduler: reassignment complete",
		zap.Int("chats", len(chats)),
		zap.Int("uncovered", uncovered),
		zap.Int("accounts", len(accounts)),
		zap.Int("accounts_gaining", len(adds)),
		zap.Int("accounts_losing", len(removes)),
		zap.String("summary", summary))
	return nil
}

// bootstrap ставит задания на докачку для чатов, которых ещё нет в базе.
// Чаты, заданные только username'ом, добираются полным пересканированием.
func (s *Scheduler) bootstrap(ctx context.Context) error {
	rows, err := s.opts.Store.KnownChatsBefore(ctx, time.Now().Add(-newChatWindow))
	if err != nil {
		return errors.Wrap(err, "known chats")
	}
	known := make(map[int64]struct{}, len(rows))
	for _, chat := range rows {
		known[chat] = struct{}{}
	}

	enqueued := 0
	for _, chat := range s.opts.Realtime.NumericChatIDs() {
		if _, ok := known[chat]; ok {
			continue
		}
		if err := s.EnqueueBackfill(ctx, "", strconv.FormatInt(chat, 10), s.opts.HistoryDays); err != nil {
			return err
		}
		enqueued++
	}
	if enqueued > 0 {
		logger.Logger().Info("scheduler: bootstrap jobs enqueued", zap.Int("jobs", enqueued))
	}
	return nil
}

// fullRescan ставит задания на докачку всех чатов из конфигурации. Водяные
// знаки в базе делают повторный обход дешёвым.
func (s *Scheduler) fullRescan(ctx context.Context) error {
	tokens := s.opts.Realtime.Tokens()
	for _, token := range tokens {
		if err := s.EnqueueBackfill(ctx, "", token, s.opts.HistoryDays); err != nil {
			return err
		}
	}
	logger.Logger().Info("scheduler: full rescan enqueued", zap.Int("jobs", len(tokens)))
	return nil
}

// EnqueueBackfill публикует задание на докачку истории одного чата. Пустой
// account означает выбор исполнителя детерминированно: единственный аккаунт
// получает всё, иначе задания распределяются по остатку от хеша токена.
func (s *Scheduler) EnqueueBackfill(ctx context.Context, account, chat string, days int) error {
	if account == "" {
		accounts := s.opts.Realtime.AccountIDs()
		if len(accounts) == 0 {
			return errors.New("no accounts configured")
		}
		account = accounts[0]
		if len(accounts) > 1 {
			account = accounts[tokenHash(chat)%len(accounts)]
		}
	}

	body, err := json.Marshal(BackfillJob{AccountID: account, Chat: chat, Days: days})
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	if err := s.opts.Jobs.Publish(ctx, body); err != nil {
		return errors.Wrapf(err, "enqueue backfill for %s", chat)
	}
	return nil
}

func tokenHash(s string) int {
	h := 0
	for _, r := range s {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}
