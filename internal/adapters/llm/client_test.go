package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		APIKey:   "test-key",
		Model:    "test-model",
		BaseURL:  srv.URL,
		MaxBatch: 10,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func completionsResponse(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestClassifyBatchOK(t *testing.T) {
	t.Parallel()

	var gotRequest chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		_, _ = w.Write([]byte(completionsResponse(
			"1|1|1|1=2|0|3|Ищет ремонтную бригаду\n2|6|12||1|1|Спам",
		)))
	})

	items := []Item{
		{ID: "-100555:42", Text: "ищу бригаду для ремонта"},
		{ID: "-100555:43", Text: "казино онлайн"},
	}
	result := client.ClassifyBatch(context.Background(), items)
	if !result.OK {
		t.Fatalf("result not OK: %s %s", result.ErrKind, result.Message)
	}

	if len(result.Classified) != 2 {
		t.Fatalf("classified %d messages, want 2", len(result.Classified))
	}
	// Перенумерованные id отображены обратно в исходные.
	if result.Classified[0].ID != "-100555:42" || result.Classified[1].ID != "-100555:43" {
		t.Errorf("remapped ids = %q, %q", result.Classified[0].ID, result.Classified[1].ID)
	}
	if result.Usage.TotalTokens != 120 {
		t.Errorf("usage = %+v", result.Usage)
	}
	if len(result.Raw) == 0 {
		t.Error("raw response not captured")
	}

	// Запрос: системный промпт с таксономией и перенумерованный список.
	if len(gotRequest.Messages) != 2 || gotRequest.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", gotRequest.Messages)
	}
	if !strings.Contains(gotRequest.Messages[1].Content, "1|ищу бригаду для ремонта") {
		t.Errorf("user content = %q", gotRequest.Messages[1].Content)
	}
}

func TestClassifyBatchParseErrorsArePerLine(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionsResponse(
			"1|1|1||0|3|ок\n2|not-a-code|1||0|3|мусор",
		)))
	})

	result := client.ClassifyBatch(context.Background(), []Item{
		{ID: "a", Text: "раз"},
		{ID: "b", Text: "два"},
		{ID: "c", Text: "три"},
	})
	if !result.OK {
		t.Fatalf("result not OK: %s", result.ErrKind)
	}
	if len(result.Classified) != 1 || result.Classified[0].ID != "a" {
		t.Errorf("classified = %+v", result.Classified)
	}
	if _, ok := result.ParseErrors["b"]; !ok {
		t.Errorf("missing parse error for b: %v", result.ParseErrors)
	}
	if got := result.ParseErrors["c"]; got != MissingResultReason {
		t.Errorf("parse error for c = %q, want %q", got, MissingResultReason)
	}
}

func TestClassifyBatchUnknownIDFailsBatch(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(completionsResponse("99|1|1||0|3|чужой id")))
	})

	result := client.ClassifyBatch(context.Background(), []Item{{ID: "a", Text: "раз"}})
	if result.OK || result.ErrKind != ErrKindParseError {
		t.Errorf("result = OK=%v kind=%q, want parse_error", result.OK, result.ErrKind)
	}
}

func TestClassifyBatchHTTPError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	result := client.ClassifyBatch(context.Background(), []Item{{ID: "a", Text: "раз"}})
	if result.OK || result.ErrKind != ErrKindHTTPError {
		t.Fatalf("result = OK=%v kind=%q, want http_error", result.OK, result.ErrKind)
	}
	if result.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", result.Status)
	}
	if !strings.Contains(result.Body, "internal error") {
		t.Errorf("body = %q", result.Body)
	}
}

func TestClassifyBatchEmptyChoices(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	})

	result := client.ClassifyBatch(context.Background(), []Item{{ID: "a", Text: "раз"}})
	if result.OK || result.ErrKind != ErrKindEmptyResponse {
		t.Errorf("kind = %q, want empty_response", result.ErrKind)
	}
}

func TestClassifyBatchGuards(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("HTTP request must not be sent")
	})

	if r := client.ClassifyBatch(context.Background(), nil); r.ErrKind != ErrKindEmptyBatch {
		t.Errorf("empty batch kind = %q", r.ErrKind)
	}

	big := make([]Item, 11)
	for i := range big {
		big[i] = Item{ID: "x", Text: "y"}
	}
	if r := client.ClassifyBatch(context.Background(), big); r.ErrKind != ErrKindBatchTooLarge {
		t.Errorf("oversized batch kind = %q", r.ErrKind)
	}

	noKey, err := New(Config{Model: "m", MaxBatch: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r := noKey.ClassifyBatch(context.Background(), []Item{{ID: "a", Text: "b"}}); r.ErrKind != ErrKindMissingAPIKey {
		t.Errorf("missing key kind = %q", r.ErrKind)
	}
}

func TestFlattenText(t *testing.T) {
	t.Parallel()

	got := flattenText("строка\nс переносом | и чертой")
	if strings.ContainsAny(got, "\n|") {
		t.Errorf("flattenText left control characters: %q", got)
	}
}
