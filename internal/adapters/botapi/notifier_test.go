package botapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func doRequest(t *testing.T, handler http.HandlerFunc) error {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return classifyResponse(resp, body)
}

func TestClassifyResponse(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		err := doRequest(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"ok": true, "result": {}}`))
		})
		if err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("permanent 4xx stops retries", func(t *testing.T) {
		t.Parallel()
		err := doRequest(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"ok": false, "error_code": 400, "description": "chat not found"}`))
		})
		perm, ok := err.(*permanentError)
		if !ok {
			t.Fatalf("err = %T (%v), want *permanentError", err, err)
		}
		if !perm.StopRetry() {
			t.Error("StopRetry() = false")
		}
		if !strings.Contains(perm.Error(), "chat not found") {
			t.Errorf("error text = %q", perm.Error())
		}
	})

	t.Run("rate limit carries retry_after", func(t *testing.T) {
		t.Parallel()
		err := doRequest(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"ok": false, "error_code": 429, "description": "Too Many Requests", "parameters": {"retry_after": 17}}`))
		})
		wait, ok := RetryAfterExtractor()(err)
		if !ok {
			t.Fatalf("extractor did not recognize %v", err)
		}
		if wait != 17*time.Second {
			t.Errorf("wait = %v, want 17s", wait)
		}
	})

	t.Run("retry_after from header", func(t *testing.T) {
		t.Parallel()
		err := doRequest(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("too many requests"))
		})
		wait, ok := RetryAfterExtractor()(err)
		if !ok || wait != 5*time.Second {
			t.Errorf("wait = %v ok=%v, want 5s", wait, ok)
		}
	})

	t.Run("5xx is temporary", func(t *testing.T) {
		t.Parallel()
		err := doRequest(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if _, ok := err.(*permanentError); ok {
			t.Error("5xx classified as permanent")
		}
		if _, ok := RetryAfterExtractor()(err); ok {
			t.Error("5xx recognized as rate limit")
		}
	})
}

func TestFormatSignal(t *testing.T) {
	t.Parallel()

	sig := Signal{
		ChatID:         -1001234567890,
		ChatTitle:      "Соседи <ЖК Ромашка>",
		ChatUsername:   "romashka_chat",
		MessageID:      42,
		SenderUsername: "ivan",
		Text:           "ищу бригаду для ремонта <срочно>",
		Date:           time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC),
		Domains:        []string{"CONSTRUCTION_AND_REPAIR"},
		Urgency:        3,
	}
	got := FormatSignal(sig)

	for _, want := range []string{
		"Соседи &lt;ЖК Ромашка&gt;",
		"@ivan",
		"2024-06-01 09:30 UTC",
		"ремонта &lt;срочно&gt;",
		"https://t.me/romashka_chat/42",
		"CONSTRUCTION_AND_REPAIR",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted signal missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "<ЖК") {
		t.Error("unescaped HTML in signal")
	}

	// Приватный чат без username — без ссылки на оригинал.
	sig.ChatUsername = ""
	if got := FormatSignal(sig); strings.Contains(got, "t.me") {
		t.Errorf("link present for private chat:\n%s", got)
	}
}
