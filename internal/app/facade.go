package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"leadpipe/internal/infra/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const facadeShutdownTimeout = 10 * time.Second

// JobEnqueuer ставит задание на докачку истории чата. Пустой account —
// исполнитель выбирается автоматически.
type JobEnqueuer interface {
	EnqueueBackfill(ctx context.Context, account, chat string, days int) error
}

// Facade — небольшой HTTP-интерфейс планировщика для ручного управления:
// постановка докачки истории и health-check.
type Facade struct {
	jobs        JobEnqueuer
	defaultDays int
	server      *http.Server
}

// NewFacade собирает HTTP-интерфейс на указанном адресе (например ":8000").
func NewFacade(addr string, jobs JobEnqueuer, defaultDays int) *Facade {
	f := &Facade{jobs: jobs, defaultDays: defaultDays}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", f.handleHealth)
	mux.HandleFunc("/api/parse/history", f.handleParseHistory)

	f.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return f
}

// Run слушает до отмены контекста.
func (f *Facade) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), facadeShutdownTimeout)
		defer cancel()
		_ = f.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (f *Facade) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleParseHistory принимает {"account_phone": "...", "chat_entity":
// "<id или @username>", "days": N} и ставит задание на докачку. Ответ —
// идентификатор задачи.
func (f *Facade) handleParseHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST only"})
		return
	}

	var req struct {
		AccountPhone string `json:"account_phone"`
		ChatEntity   string `json:"chat_entity"`
		Days         int    `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}
	req.AccountPhone = strings.TrimSpace(req.AccountPhone)
	req.ChatEntity = strings.TrimSpace(req.ChatEntity)
	if req.ChatEntity == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chat_entity is required"})
		return
	}
	if req.Days <= 0 {
		req.Days = f.defaultDays
	}

	if err := f.jobs.EnqueueBackfill(r.Context(), req.AccountPhone, req.ChatEntity, req.Days); err != nil {
		logger.Logger().Error("facade: enqueue failed",
			zap.String("chat", req.ChatEntity), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	taskID := uuid.NewString()
	logger.Logger().Info("facade: history parse enqueued",
		zap.String("account", req.AccountPhone), zap.String("chat", req.ChatEntity),
		zap.Int("days", req.Days), zap.String("task_id", taskID))
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
