package app

import (
	"context"
	"sync"
	"time"

	"leadpipe/internal/infra/logger"

	"go.uber.org/zap"
)

// Stats — счётчики обработки сообщений. Счётчики накапливаются между
// отчётами и обнуляются после каждой сводки; allowedSize — датчик текущего
// состояния, сводкой не сбрасывается. Потокобезопасен.
type Stats struct {
	mu sync.Mutex

	received   int64
	published  int64
	failed     int64
	dropped    int64
	classified int64
	synthetic  int64
	persisted  int64
	requeued   int64
	notified   int64
	urgency    [6]int64 // индексы 1..5

	allowedSize int64
}

// NewStats создаёт пустые счётчики.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) add(field *int64, n int64) {
	s.mu.Lock()
	*field += n
	s.mu.Unlock()
}

func (s *Stats) Received(n int)   { s.add(&s.received, int64(n)) }
func (s *Stats) Published(n int)  { s.add(&s.published, int64(n)) }
func (s *Stats) Failed(n int)     { s.add(&s.failed, int64(n)) }
func (s *Stats) Dropped(n int)    { s.add(&s.dropped, int64(n)) }
func (s *Stats) Classified(n int) { s.add(&s.classified, int64(n)) }
func (s *Stats) Synthetic(n int)  { s.add(&s.synthetic, int64(n)) }
func (s *Stats) Persisted(n int)  { s.add(&s.persisted, int64(n)) }
func (s *Stats) Requeued(n int)   { s.add(&s.requeued, int64(n)) }
func (s *Stats) Notified(n int)   { s.add(&s.notified, int64(n)) }

// SetAllowedSize фиксирует размер текущего набора закреплённых чатов.
func (s *Stats) SetAllowedSize(n int) {
	s.mu.Lock()
	s.allowedSize = int64(n)
	s.mu.Unlock()
}

// Urgency учитывает срочность классифицированного сообщения.
func (s *Stats) Urgency(level int) {
	if level < 1 || level > 5 {
		return
	}
	s.mu.Lock()
	s.urgency[level]++
	s.mu.Unlock()
}

// ReportEvery периодически пишет сводку в лог до отмены контекста.
func (s *Stats) ReportEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.report()
		}
	}
}

// report пишет сводку за прошедший интервал и обнуляет счётчики.
func (s *Stats) report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Logger().Info("pipeline stats",
		zap.Int64("received", s.received),
		zap.Int64("published", s.published),
		zap.Int64("failed", s.failed),
		zap.Int64("dropped", s.dropped),
		zap.Int64("classified", s.classified),
		zap.Int64("synthetic", s.synthetic),
		zap.Int64("persisted", s.persisted),
		zap.Int64("requeued", s.requeued),
		zap.Int64("notified", s.notified),
		zap.Int64s("urgency_1_to_5", s.urgency[1:]),
		zap.Int64("allowed_size", s.allowedSize),
	)

	s.received = 0
	s.published = 0
	s.failed = 0
	s.dropped = 0
	s.classified = 0
	s.synthetic = 0
	s.persisted = 0
	s.requeued = 0
	s.notified = 0
	s.urgency = [6]int64{}
}
