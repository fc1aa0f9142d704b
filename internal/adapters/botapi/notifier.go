// Package botapi — доставка сигналов о лидах через Telegram Bot API.
//
// Ошибки Bot API делятся на постоянные (большинство 4xx — доставка в этот
// чат невозможна, повторять бессмысленно) и временные (429 с retry_after,
// 5xx, сетевые сбои). Повторами и паузами управляет общий троттлер:
// постоянные ошибки реализуют StopRetryer, серверный retry_after извлекается
// экстрактором RetryAfterExtractor.
package botapi

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadpipe/internal/infra/throttle"

	"github.com/go-faster/errors"
)

const (
	httpClientTimeout = 30 * time.Second
	// maxTextRunes ограничивает цитату исходного сообщения в уведомлении.
	maxTextRunes = 700
	// botSuperPrefix — префикс chat_id каналов/супергрупп в Bot API.
	botSuperPrefix int64 = -1000000000000
)

// Signal — содержимое уведомления о найденном лиде.
type Signal struct {
	ChatID         int64
	ChatTitle      string
	ChatUsername   string
	MessageID      int64
	SenderUsername string
	Text           string
	Date           time.Time
	Domains        []string
	Urgency        int
}

// permanentError — ответ Bot API, при котором повторять доставку бессмысленно.
type permanentError struct {
	code int
	desc string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("bot api error %d: %s", e.code, e.desc)
}

// StopRetry реализует throttle.StopRetryer.
func (e *permanentError) StopRetry() bool { return true }

// rateLimitError — 429 с серверной рекомендацией паузы.
type rateLimitError struct {
	desc  string
	after time.Duration
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("bot api rate limit: %s (retry after %s)", e.desc, e.after)
}

// RetryAfter возвращает серверную паузу; ноль — рекомендации нет.
func (e *rateLimitError) RetryAfter() time.Duration { return e.after }

// RetryAfterExtractor — throttle.WaitExtractor, извлекающий retry_after из
// ошибок Bot API. Серверный интервал соблюдается ровно, без джиттера.
func RetryAfterExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		var rle *rateLimitError
		if !errors.As(err, &rle) || rle.after <= 0 {
			return 0, false
		}
		return rle.after, true
	}
}

// Notifier отправляет уведомления ботом. Безопасен для конкурентного
// использования: троттлер сериализует частоту запросов.
type Notifier struct {
	baseURL   string
	client    *http.Client
	throttler *throttle.Throttler
}

// New собирает Notifier. rps задаёт среднюю частоту запросов к Bot API.
// Троттлер запускается сразу; Close останавливает его.
func New(ctx context.Context, token string, rps int) *Notifier {
	t := throttle.New(rps,
		throttle.WithMaxRetries(5),
		throttle.WithWaitExtractors(RetryAfterExtractor()),
	)
	t.Start(ctx)

	return &Notifier{
		baseURL:   "https://api.telegram.org/bot" + token + "/sendMessage",
		client:    &http.Client{Timeout: httpClientTimeout},
		throttler: t,
	}
}

// Close останавливает троттлер и фоновые горутины.
func (n *Notifier) Close() {
	n.throttler.Stop()
}

// Send доставляет сигнал в один чат назначения. Постоянные ошибки Bot API
// возвращаются без повторов; временные ретраятся троттлером.
func (n *Notifier) Send(ctx context.Context, destChatID int64, sig Signal) error {
	text := FormatSignal(sig)
	return n.throttler.Do(ctx, func() error {
		return n.sendMessage(ctx, destChatID, text)
	})
}

// sendMessage выполняет один запрос sendMessage с parse_mode=HTML.
func (n *Notifier) sendMessage(ctx context.Context, chatID int64, text string) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	params.Set("parse_mode", "HTML")
	params.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL,
		strings.NewReader(params.Encode()))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	return classifyResponse(resp, body)
}

// classifyResponse приводит ответ Bot API к постоянной либо временной ошибке.
func classifyResponse(resp *http.Response, body []byte) error {
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	// Тело может быть не-JSON (прокси, балансировщик) — тогда судим по статусу.
	hasJSON := json.Unmarshal(body, &apiResp) == nil

	if hasJSON && apiResp.OK {
		return nil
	}

	desc := strings.TrimSpace(apiResp.Description)
	if desc == "" {
		desc = strings.TrimSpace(string(body))
	}
	if desc == "" {
		desc = http.StatusText(resp.StatusCode)
	}

	status := resp.StatusCode
	if hasJSON && apiResp.ErrorCode != 0 {
		status = apiResp.ErrorCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		after := retryAfterDuration(resp, apiResp.Parameters.RetryAfter)
		return &rateLimitError{desc: desc, after: after}
	case status >= 400 && status < 500:
		return &permanentError{code: status, desc: desc}
	default:
		return errors.Errorf("bot api server error %d: %s", status, desc)
	}
}

// retryAfterDuration выбирает паузу из JSON-параметра или заголовка Retry-After.
func retryAfterDuration(resp *http.Response, bodySeconds int) time.Duration {
	if bodySeconds > 0 {
		return time.Duration(bodySeconds) * time.Second
	}
	value := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(value); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

// FormatSignal собирает HTML-текст уведомления: откуда и от кого сообщение,
// время, цитата и, если чат публичный, ссылка t.me на оригинал.
func FormatSignal(sig Signal) string {
	var b strings.Builder

	b.WriteString("🔔 <b>Новый лид</b>")
	if len(sig.Domains) > 0 {
		fmt.Fprintf(&b, " · %s", html.EscapeString(strings.Join(sig.Domains, ", ")))
	}
	b.WriteString("\n")

	chat := sig.ChatTitle
	if chat == "" && sig.ChatUsername != "" {
		chat = "@" + sig.ChatUsername
	}
	if chat == "" {
		chat = strconv.FormatInt(sig.ChatID, 10)
	}
	fmt.Fprintf(&b, "Чат: %s\n", html.EscapeString(chat))

	if sig.SenderUsername != "" {
		fmt.Fprintf(&b, "Автор: @%s\n", html.EscapeString(sig.SenderUsername))
	}
	if !sig.Date.IsZero() {
		fmt.Fprintf(&b, "Время: %s\n", sig.Date.UTC().Format("2006-01-02 15:04 UTC"))
	}
	if sig.Urgency > 0 {
		fmt.Fprintf(&b, "Срочность: %d/5\n", sig.Urgency)
	}

	text := sig.Text
	if runes := []rune(text); len(runes) > maxTextRunes {
		text = string(runes[:maxTextRunes]) + "…"
	}
	fmt.Fprintf(&b, "\n<blockquote>%s</blockquote>", html.EscapeString(text))

	if sig.ChatUsername != "" && sig.MessageID != 0 {
		fmt.Fprintf(&b, "\n\n<a href=\"https://t.me/%s/%d\">Открыть сообщение</a>",
			url.PathEscape(sig.ChatUsername), sig.MessageID)
	}
	return b.String()
}
