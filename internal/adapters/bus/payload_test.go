package bus

import (
	"encoding/json"
	"testing"
	"time"
)

func TestToRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		payload  string
		wantOK   bool
		wantChat int64
		wantMsg  int64
		wantHist bool
	}{
		{
			name: "realtime with explicit ids",
			payload: `{
				"event": "NewMessage",
				"chat_id": -1001234567890,
				"message_id": 42,
				"message": {"id": 42, "message": "ищу бригаду"},
				"sender_username": "ivan",
				"chat_username": "home_chat"
			}`,
			wantOK:   true,
			wantChat: -1001234567890,
			wantMsg:  42,
		},
		{
			name: "chat id derived from channel peer",
			payload: `{
				"event": "HistoricalMessage",
				"message": {"id": 7, "message": "текст", "peer_id": {"channel_id": 555}}
			}`,
			wantOK:   true,
			wantChat: -1000000000555,
			wantMsg:  7,
			wantHist: true,
		},
		{
			name: "chat id derived from basic group peer",
			payload: `{
				"event": "NewMessage",
				"message": {"id": 9, "message": "текст", "peer_id": {"chat_id": 777}}
			}`,
			wantOK:   true,
			wantChat: -777,
			wantMsg:  9,
		},
		{
			name: "user peer stays positive",
			payload: `{
				"event": "NewMessage",
				"message": {"id": 3, "message": "текст", "peer_id": {"user_id": 123}}
			}`,
			wantOK:   true,
			wantChat: 123,
			wantMsg:  3,
		},
		{
			name:    "no derivable chat id",
			payload: `{"event": "NewMessage", "message": {"id": 5, "message": "текст"}}`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var p Payload
			if err := json.Unmarshal([]byte(tt.payload), &p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			rec, ok := p.ToRecord(now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if rec.ChatID != tt.wantChat {
				t.Errorf("ChatID = %d, want %d", rec.ChatID, tt.wantChat)
			}
			if rec.MessageID != tt.wantMsg {
				t.Errorf("MessageID = %d, want %d", rec.MessageID, tt.wantMsg)
			}
			if rec.Historical != tt.wantHist {
				t.Errorf("Historical = %v, want %v", rec.Historical, tt.wantHist)
			}
		})
	}
}

func TestToRecordDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	p := Payload{
		Event:     "NewMessage",
		ChatID:    -100,
		MessageID: 1,
		Message:   MessageBody{Date: "2024-05-31T09:30:00+03:00"},
	}
	rec, ok := p.ToRecord(now)
	if !ok {
		t.Fatal("record rejected")
	}
	want := time.Date(2024, 5, 31, 6, 30, 0, 0, time.UTC)
	if !rec.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", rec.Date, want)
	}

	// Невалидная дата заменяется текущим временем.
	p.Message.Date = "yesterday"
	rec, _ = p.ToRecord(now)
	if !rec.Date.Equal(now) {
		t.Errorf("fallback Date = %v, want %v", rec.Date, now)
	}
}
