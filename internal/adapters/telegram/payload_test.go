package telegram

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestMarkedPeerID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		peer tg.PeerClass
		want int64
	}{
		{"user", &tg.PeerUser{UserID: 123}, 123},
		{"basic group", &tg.PeerChat{ChatID: 777}, -777},
		{"channel", &tg.PeerChannel{ChannelID: 555}, -1000000000555},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := MarkedPeerID(tt.peer); got != tt.want {
				t.Errorf("MarkedPeerID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnmarkChannelID(t *testing.T) {
	t.Parallel()

	if id, ok := UnmarkChannelID(-1000000000555); !ok || id != 555 {
		t.Errorf("UnmarkChannelID = %d, %v", id, ok)
	}
	if _, ok := UnmarkChannelID(-777); ok {
		t.Error("basic group accepted as channel")
	}
	if _, ok := UnmarkChannelID(123); ok {
		t.Error("user id accepted as channel")
	}
}

func TestBuildPayload(t *testing.T) {
	t.Parallel()

	msg := &tg.Message{
		ID:      42,
		Message: "ищу бригаду",
		Date:    int(time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC).Unix()),
		PeerID:  &tg.PeerChannel{ChannelID: 555},
	}
	msg.SetFromID(&tg.PeerUser{UserID: 123})

	payload := BuildPayload(EventNewMessage, msg, "ivan", "home_chat")

	// Метки событий — часть wire-контракта с потребителями очередей.
	if payload.Event != "NewMessage" {
		t.Errorf("Event = %q", payload.Event)
	}
	if EventHistoricalMessage != "HistoricalMessage" {
		t.Errorf("historical tag = %q", EventHistoricalMessage)
	}
	if payload.ChatID != -1000000000555 {
		t.Errorf("ChatID = %d", payload.ChatID)
	}
	if payload.MessageID != 42 || payload.Message.ID != 42 {
		t.Errorf("message ids = %d/%d", payload.MessageID, payload.Message.ID)
	}
	if payload.Message.Date != "2024-06-01T09:30:00Z" {
		t.Errorf("Date = %q", payload.Message.Date)
	}
	if payload.Message.FromID == nil || payload.Message.FromID.UserID != 123 {
		t.Errorf("FromID = %+v", payload.Message.FromID)
	}
	if payload.SenderUsername != "ivan" || payload.ChatUsername != "home_chat" {
		t.Errorf("usernames = %q/%q", payload.SenderUsername, payload.ChatUsername)
	}

	// Полезная нагрузка должна однозначно разворачиваться обратно в запись.
	rec, ok := payload.ToRecord(time.Now())
	if !ok || rec.ChatID != -1000000000555 || rec.MessageID != 42 {
		t.Errorf("ToRecord = %+v, %v", rec, ok)
	}
}
