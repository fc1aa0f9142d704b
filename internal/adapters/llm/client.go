// Package llm — клиент пакетной классификации сообщений через
// OpenAI-совместимый chat-completions endpoint (OpenRouter).
//
// Протокол: один HTTP POST на батч, ответ — по одной компактной строке на
// сообщение (см. classify.DecodeLine). Перед отправкой батч перенумеровывается
// в "1".."N" для экономии выходных токенов; обратная подстановка выполняется
// при разборе. Ошибки не ретраятся на этом уровне: решение (requeue или
// синтетическая классификация) принимает ingestor по виду ошибки.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"leadpipe/internal/domain/classify"
	"leadpipe/internal/infra/logger"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Виды ошибок классификации, видимые вызывающему коду.
const (
	ErrKindMissingAPIKey   = "missing_api_key"
	ErrKindEmptyBatch      = "empty_batch"
	ErrKindBatchTooLarge   = "batch_too_large"
	ErrKindInvalidFormat   = "invalid_format"
	ErrKindEmptyResponse   = "empty_response"
	ErrKindNoContent       = "no_content"
	ErrKindParseError      = "parse_error"
	ErrKindTimeout         = "timeout"
	ErrKindHTTPError       = "http_error"
	ErrKindRequestError    = "request_error"
	ErrKindUnexpectedError = "unexpected_error"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	connectTimeout = 20 * time.Second
	requestTimeout = 30 * time.Second
	// bodySnippetLimit ограничивает размер тела ошибки, попадающего в Result.
	bodySnippetLimit = 2000
)

// MissingResultReason помечает кандидата, для которого LLM не вернула строку.
const MissingResultReason = "missing_result"

// Item — один элемент батча: непрозрачный для клиента id и текст сообщения.
type Item struct {
	ID   string
	Text string
}

// Usage — токены, израсходованные на запрос.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result — исход пакетной классификации. При OK=true каждый входной id
// присутствует ровно один раз либо в Classified, либо в ParseErrors.
// При OK=false заполнены ErrKind/Message и, для HTTP-ошибок, Status/Body.
type Result struct {
	OK          bool
	Classified  []classify.Classification
	ParseErrors map[string]string
	Usage       Usage
	Raw         json.RawMessage

	ErrKind string
	Status  int
	Body    string
	Message string
}

// Config — параметры клиента.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string // по умолчанию OpenRouter
	ProxyURL  string // опциональный HTTP(S)-прокси
	MaxBatch  int
}

// Client выполняет пакетную классификацию. Безопасен для конкурентного
// использования.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxBatch   int
}

// New собирает клиент. Прокси, если задан, применяется только к этому
// транспорту и не трогает глобальное окружение процесса.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if cfg.MaxBatch <= 0 {
		return nil, errors.New("llm: MaxBatch must be positive")
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, errors.Wrap(err, "llm: parse proxy url")
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		maxBatch: cfg.MaxBatch,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// ClassifyBatch классифицирует батч сообщений одним запросом.
// Никогда не возвращает nil.
func (c *Client) ClassifyBatch(ctx context.Context, items []Item) *Result {
	switch {
	case c.apiKey == "":
		return failure(ErrKindMissingAPIKey, "OPENROUTER_API_KEY is not configured")
	case len(items) == 0:
		return failure(ErrKindEmptyBatch, "empty batch")
	case len(items) > c.maxBatch:
		return failure(ErrKindBatchTooLarge,
			fmt.Sprintf("batch of %d exceeds limit %d", len(items), c.maxBatch))
	}

	// Перенумеровываем в "1".."N" и запоминаем обратное соответствие.
	remap := make(map[string]string, len(items))
	for i, item := range items {
		remap[strconv.Itoa(i+1)] = item.ID
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt()},
			{Role: "user", Content: userContent(items)},
		},
		Temperature: 0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(ErrKindUnexpectedError, "marshal request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return failure(ErrKindRequestError, "build request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return failure(ErrKindTimeout, err.Error())
		}
		return failure(ErrKindRequestError, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(ErrKindRequestError, "read response: "+err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		r := failure(ErrKindHTTPError,
			fmt.Sprintf("chat completions returned %d", resp.StatusCode))
		r.Status = resp.StatusCode
		r.Body = snippet(respBody)
		return r
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		r := failure(ErrKindInvalidFormat, "decode response: "+err.Error())
		r.Body = snippet(respBody)
		return r
	}
	if len(parsed.Choices) == 0 {
		r := failure(ErrKindEmptyResponse, "response has no choices")
		r.Body = snippet(respBody)
		return r
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return failure(ErrKindNoContent, "assistant message is empty")
	}

	result, perr := parseContent(content, remap)
	if perr != nil {
		r := failure(ErrKindParseError, perr.Error())
		r.Body = snippet(respBody)
		return r
	}
	result.Usage = parsed.Usage
	result.Raw = json.RawMessage(respBody)

	logger.Debug("llm: batch classified",
		zap.Int("items", len(items)),
		zap.Int("classified", len(result.Classified)),
		zap.Int("parse_errors", len(result.ParseErrors)),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("took", time.Since(started)))
	return result
}

// parseContent разбирает строки ответа независимо друг от друга. Построчные
// ошибки складываются в ParseErrors; неизвестный перенумерованный id —
// ошибка всего батча. Входные id без строки в ответе получают missing_result.
func parseContent(content string, remap map[string]string) (*Result, error) {
	result := &Result{
		OK:          true,
		ParseErrors: make(map[string]string),
	}

	resolved := make(map[string]struct{}, len(remap))
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		idTok, _, _ := strings.Cut(line, "|")
		origID, known := remap[strings.TrimSpace(idTok)]
		if !known {
			return nil, fmt.Errorf("response line has unknown id %q", idTok)
		}
		if _, dup := resolved[origID]; dup {
			result.ParseErrors[origID] = "duplicate line for id"
			continue
		}
		resolved[origID] = struct{}{}

		parsedLine, err := classify.DecodeLine(line)
		if err != nil {
			result.ParseErrors[origID] = err.Error()
			continue
		}
		parsedLine.ID = origID
		result.Classified = append(result.Classified, parsedLine)
	}

	for _, origID := range remap {
		if _, ok := resolved[origID]; !ok {
			result.ParseErrors[origID] = MissingResultReason
		}
	}
	return result, nil
}

func failure(kind, message string) *Result {
	return &Result{ErrKind: kind, Message: message}
}

func snippet(body []byte) string {
	if len(body) > bodySnippetLimit {
		return string(body[:bodySnippetLimit])
	}
	return string(body)
}

// isTimeout распознаёт сетевые таймауты и отменённые дедлайны.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
