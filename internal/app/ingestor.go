// Package app — сборка узлов пайплайна: слушатель апдейтов, индексатор,
// бэкфиллер и планировщик.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadpipe/internal/adapters/botapi"
	"leadpipe/internal/adapters/bus"
	"leadpipe/internal/adapters/llm"
	"leadpipe/internal/adapters/postgres"
	"leadpipe/internal/domain/classify"
	"leadpipe/internal/domain/prefilter"
	"leadpipe/internal/domain/routing"
	"leadpipe/internal/infra/logger"

	"go.uber.org/zap"
)

// errorBodyLimit ограничивает фрагмент тела HTTP-ошибки в llm_analysis.
const errorBodyLimit = 500

// Acker — ручное подтверждение доставки. Совместим с amqp091.Delivery.
type Acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Message — одна доставка из очереди брокера.
type Message struct {
	Body []byte
	Ack  Acker
}

// Classifier — пакетная классификация текстов (LLM).
type Classifier interface {
	ClassifyBatch(ctx context.Context, items []llm.Item) *llm.Result
}

// Persister — запись проиндексированных сообщений.
type Persister interface {
	UpsertMessages(ctx context.Context, rows []postgres.MessageRow) error
}

// Notifier — доставка сигналов о лидах.
type Notifier interface {
	Send(ctx context.Context, destChatID int64, sig botapi.Signal) error
}

// RouteProvider отдаёт актуальную таблицу маршрутизации.
type RouteProvider interface {
	Snapshot() *routing.Table
}

// IngestorConfig — параметры батчирования индексатора.
type IngestorConfig struct {
	// ReadBatchSize — сколько доставок забирается из очереди за цикл.
	ReadBatchSize int
	// ReadBatchTimeout — сколько ждать добора цикла чтения.
	ReadBatchTimeout time.Duration
	// LLMBatchSize — ровно столько кандидатов уходит в один запрос LLM.
	LLMBatchSize int
}

// Ingestor потребляет события чатов, прогоняет их через префильтр и LLM,
// сохраняет результат и рассылает сигналы о лидах.
//
// Подтверждение доставки строго после записи в базу: упавший на середине
// процесс приводит к повторной доставке, а не к потере сообщений.
type Ingestor struct {
	cfg        IngestorConfig
	classifier Classifier
	persister  Persister
	notifier   Notifier
	routes     RouteProvider
	filter     *prefilter.Prefilter
	// locations — привязка чатов к городу/району для маршрутизации.
	locations map[int64][]routing.Location
	stats     *Stats

	// pending — кандидаты, ожидающие добора полного LLM-батча.
	pending []pendingItem
}

type pendingItem struct {
	id  string
	msg Message
	rec bus.Record
}

// persistItem — сообщение с готовой классификацией, ожидающее записи.
type persistItem struct {
	msg      Message
	rec      bus.Record
	cls      classify.Classification
	analysis any
	raw      json.RawMessage
}

// NewIngestor собирает индексатор. notifier допускает nil (уведомления
// выключены).
func NewIngestor(
	cfg IngestorConfig,
	classifier Classifier,
	persister Persister,
	notifier Notifier,
	routes RouteProvider,
	filter *prefilter.Prefilter,
	locations map[int64][]routing.Location,
	stats *Stats,
) *Ingestor {
	if cfg.ReadBatchSize <= 0 {
		cfg.ReadBatchSize = 70
	}
	if cfg.ReadBatchTimeout <= 0 {
		cfg.ReadBatchTimeout = 5 * time.Second
	}
	if cfg.LLMBatchSize <= 0 {
		cfg.LLMBatchSize = 40
	}
	return &Ingestor{
		cfg:        cfg,
		classifier: classifier,
		persister:  persister,
		notifier:   notifier,
		routes:     routes,
		filter:     filter,
		locations:  locations,
		stats:      stats,
	}
}

// Run обрабатывает поток доставок до отмены контекста.
func (ing *Ingestor) Run(ctx context.Context, messages <-chan Message) error {
	for {
		batch, err := ing.readBatch(ctx, messages)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			// Тихий период: досылаем неполный LLM-батч, чтобы хвост не
			// ждал новых сообщений бесконечно.
			ing.flushPending(ctx)
			continue
		}
		ing.processBatch(ctx, batch)
	}
}

// readBatch забирает до ReadBatchSize доставок, но не дольше ReadBatchTimeout.
func (ing *Ingestor) readBatch(ctx context.Context, messages <-chan Message) ([]Message, error) {
	var batch []Message
	timer := time.NewTimer(ing.cfg.ReadBatchTimeout)
	defer timer.Stop()

	for len(batch) < ing.cfg.ReadBatchSize {
		select {
		case <-ctx.Done():
			return batch, ctx.Err()
		case <-timer.C:
			return batch, nil
		case msg, ok := <-messages:
			if !ok {
				return batch, context.Canceled
			}
			batch = append(batch, msg)
		}
	}
	return batch, nil
}

// processBatch раскладывает цикл чтения: мусор отбрасывается, синтетика
// сохраняется сразу, кандидаты копятся до полного LLM-батча.
func (ing *Ingestor) processBatch(ctx context.Context, batch []Message) {
	ing.stats.Received(len(batch))

	var synthetic []persistItem
	for _, msg := range batch {
		var payload bus.Payload
		if err := json.Unmarshal(msg.Body, &payload); err != nil {
			logger.Debug("ingestor: unparseable payload dropped", zap.Error(err))
			ing.drop(msg)
			continue
		}
		rec, ok := payload.ToRecord(time.Now())
		if !ok {
			logger.Debug("ingestor: payload without chat id dropped")
			ing.drop(msg)
			continue
		}

		if cls, matched := ing.classifyLocal(rec); matched {
			ing.stats.Synthetic(1)
			synthetic = append(synthetic, persistItem{
				msg:      msg,
				rec:      rec,
				cls:      cls,
				analysis: analysisSynthetic(cls.Reasoning),
			})
			continue
		}

		ing.pending = append(ing.pending, pendingItem{
			id:  recordID(rec),
			msg: msg,
			rec: rec,
		})
	}

	if len(synthetic) > 0 {
		ing.persistGroup(ctx, synthetic)
	}

	for len(ing.pending) >= ing.cfg.LLMBatchSize {
		chunk := ing.pending[:ing.cfg.LLMBatchSize]
		ing.pending = ing.pending[ing.cfg.LLMBatchSize:]
		ing.classifyChunk(ctx, chunk)
	}
}

// flushPending отправляет накопленный неполный батч.
func (ing *Ingestor) flushPending(ctx context.Context) {
	if len(ing.pending) == 0 {
		return
	}
	chunk := ing.pending
	ing.pending = nil
	ing.classifyChunk(ctx, chunk)
}

// classifyLocal применяет префильтр. Возвращает синтетическую классификацию
// и true, если сообщение не должно идти в LLM.
func (ing *Ingestor) classifyLocal(rec bus.Record) (classify.Classification, bool) {
	if strings.TrimSpace(rec.Text) == "" {
		return classify.EmptyText(), true
	}
	decision, patterns := ing.filter.Match(rec.Text)
	switch decision {
	case prefilter.DecisionForce:
		return classify.Forced(patterns), true
	case prefilter.DecisionSkip:
		return classify.Filtered(patterns), true
	default:
		return classify.Classification{}, false
	}
}

// classifyChunk гонит чанк кандидатов через LLM и раскладывает результат.
func (ing *Ingestor) classifyChunk(ctx context.Context, chunk []pendingItem) {
	items := make([]llm.Item, len(chunk))
	byID := make(map[string]pendingItem, len(chunk))
	for i, p := range chunk {
		items[i] = llm.Item{ID: p.id, Text: p.rec.Text}
		byID[p.id] = p
	}

	result := ing.classifier.ClassifyBatch(ctx, items)

	if !result.OK {
		// Ответил ли сервер вообще? HTTP-ошибка означает перегрузку или
		// сбой на той стороне: возвращаем весь чанк в очередь и пробуем
		// позже. Остальные отказы не чинятся повтором — сохраняем
		// сообщения с заглушкой и описанием ошибки.
		if result.ErrKind == llm.ErrKindHTTPError {
			ing.requeueChunk(chunk, result)
			return
		}
		ing.persistFailedChunk(ctx, chunk, result)
		return
	}

	ing.stats.Classified(len(result.Classified))

	var group []persistItem
	for _, cls := range result.Classified {
		p, ok := byID[cls.ID]
		if !ok {
			continue
		}
		if cls.Urgency > 0 {
			ing.stats.Urgency(cls.Urgency)
		}
		group = append(group, persistItem{
			msg:      p.msg,
			rec:      p.rec,
			cls:      cls,
			analysis: analysisOK(result.Usage),
			raw:      result.Raw,
		})
	}
	for id, reason := range result.ParseErrors {
		p, ok := byID[id]
		if !ok {
			continue
		}
		group = append(group, persistItem{
			msg:      p.msg,
			rec:      p.rec,
			cls:      classify.Failure("LLM parse error: " + reason),
			analysis: analysisParseError(reason),
			raw:      result.Raw,
		})
	}
	ing.persistGroup(ctx, group)
}

// requeueChunk возвращает чанк брокеру на повторную доставку.
func (ing *Ingestor) requeueChunk(chunk []pendingItem, result *llm.Result) {
	logger.Warn("ingestor: llm http error, requeueing chunk",
		zap.Int("size", len(chunk)),
		zap.Int("status", result.Status),
		zap.String("message", result.Message))
	for _, p := range chunk {
		_ = p.msg.Ack.Nack(false, true)
	}
	ing.stats.Requeued(len(chunk))
}

// persistFailedChunk сохраняет чанк с заглушкой вместо классификации.
func (ing *Ingestor) persistFailedChunk(ctx context.Context, chunk []pendingItem, result *llm.Result) {
	logger.Warn("ingestor: llm batch failed, persisting with stub",
		zap.Int("size", len(chunk)),
		zap.String("kind", result.ErrKind),
		zap.String("message", result.Message))

	analysis := analysisBatchError(result)
	group := make([]persistItem, len(chunk))
	for i, p := range chunk {
		group[i] = persistItem{
			msg:      p.msg,
			rec:      p.rec,
			cls:      classify.Failure("LLM error: " + result.ErrKind),
			analysis: analysis,
		}
	}
	ing.stats.Synthetic(len(chunk))
	ing.persistGroup(ctx, group)
}

// persistGroup пишет группу сообщений одной вставкой. Успех подтверждает
// доставки и рассылает сигналы; ошибка возвращает группу в очередь.
func (ing *Ingestor) persistGroup(ctx context.Context, group []persistItem) {
	if len(group) == 0 {
		return
	}

	rows := make([]postgres.MessageRow, len(group))
	for i, item := range group {
		rows[i] = messageRow(item)
	}

	if err := ing.persister.UpsertMessages(ctx, rows); err != nil {
		logger.Error("ingestor: persist failed, requeueing group", zap.Error(err))
		for _, item := range group {
			_ = item.msg.Ack.Nack(false, true)
		}
		ing.stats.Requeued(len(group))
		return
	}

	ing.stats.Persisted(len(group))
	for _, item := range group {
		_ = item.msg.Ack.Ack(false)
		ing.maybeNotify(ctx, item)
	}
}

// maybeNotify рассылает сигнал, если сообщение — не спам, содержит запрос и
// для его доменов есть адресаты. Доставка асинхронная, ошибки не влияют на
// подтверждение сообщения.
func (ing *Ingestor) maybeNotify(ctx context.Context, item persistItem) {
	if ing.notifier == nil || item.cls.IsSpam || !hasIntent(item.cls.Intents, classify.IntentRequest) {
		return
	}

	table := ing.routes.Snapshot()
	if table == nil {
		return
	}
	destinations := table.Destinations(item.cls.Domains, ing.locations[item.rec.ChatID])
	if len(destinations) == 0 {
		return
	}

	sig := botapi.Signal{
		ChatID:         item.rec.ChatID,
		ChatUsername:   item.rec.ChatUsername,
		MessageID:      item.rec.MessageID,
		SenderUsername: item.rec.SenderUsername,
		Text:           item.rec.Text,
		Date:           item.rec.Date,
		Domains:        domainNames(item.cls.Domains),
		Urgency:        item.cls.Urgency,
	}

	ing.stats.Notified(len(destinations))
	for _, dest := range destinations {
		go func(dest int64) {
			if err := ing.notifier.Send(ctx, dest, sig); err != nil {
				logger.Warn("ingestor: notification failed",
					zap.Int64("destination", dest), zap.Error(err))
			}
		}(dest)
	}
}

func (ing *Ingestor) drop(msg Message) {
	_ = msg.Ack.Nack(false, false)
	ing.stats.Dropped(1)
}

func recordID(rec bus.Record) string {
	return fmt.Sprintf("%d:%d", rec.ChatID, rec.MessageID)
}

func messageRow(item persistItem) postgres.MessageRow {
	analysis, err := json.Marshal(item.analysis)
	if err != nil {
		analysis = nil
	}
	return postgres.MessageRow{
		ChatID:             item.rec.ChatID,
		MessageID:          item.rec.MessageID,
		Text:               item.rec.Text,
		MessageDate:        item.rec.Date,
		SenderID:           item.rec.SenderID,
		SenderUsername:     item.rec.SenderUsername,
		ChatUsername:       item.rec.ChatUsername,
		Intents:            item.cls.Intents,
		Domains:            item.cls.Domains,
		IsSpam:             item.cls.IsSpam,
		Urgency:            item.cls.Urgency,
		NeedsReview:        item.cls.NeedsReview,
		Reasoning:          item.cls.Reasoning,
		LLMAnalysis:        analysis,
		OpenRouterResponse: item.raw,
	}
}

func hasIntent(intents []string, intent string) bool {
	for _, i := range intents {
		if i == intent {
			return true
		}
	}
	return false
}

func domainNames(tags []classify.DomainTags) []string {
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Domain
	}
	return names
}

// Сводки для колонки llm_analysis.

func analysisOK(usage llm.Usage) any {
	return map[string]any{"status": "ok", "usage": usage}
}

func analysisSynthetic(reason string) any {
	return map[string]any{"status": "synthetic", "reason": reason}
}

func analysisParseError(reason string) any {
	return map[string]any{"status": "parse_error", "reason": reason}
}

func analysisBatchError(result *llm.Result) any {
	body := result.Body
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit]
	}
	out := map[string]any{
		"status":  "error",
		"kind":    result.ErrKind,
		"message": result.Message,
	}
	if result.Status != 0 {
		out["http_status"] = result.Status
	}
	if body != "" {
		out["body"] = body
	}
	return out
}
