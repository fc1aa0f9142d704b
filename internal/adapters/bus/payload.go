package bus

import (
	"time"
)

// PeerRef — ссылка на пира в теле сообщения. Заполнено ровно одно поле.
type PeerRef struct {
	UserID    int64 `json:"user_id,omitempty"`
	ChatID    int64 `json:"chat_id,omitempty"`
	ChannelID int64 `json:"channel_id,omitempty"`
}

// MessageBody — вложенное тело сообщения Telegram в полезной нагрузке.
type MessageBody struct {
	ID     int64    `json:"id"`
	Text   string   `json:"message"`
	Date   string   `json:"date,omitempty"`
	FromID *PeerRef `json:"from_id,omitempty"`
	PeerID *PeerRef `json:"peer_id,omitempty"`
}

// Payload — событие чата, публикуемое listener'ом и бэкфиллером в обменники
// и потребляемое ingestor'ом.
type Payload struct {
	Event          string      `json:"event"`
	ChatID         int64       `json:"chat_id,omitempty"`
	MessageID      int64       `json:"message_id,omitempty"`
	Message        MessageBody `json:"message"`
	SenderUsername string      `json:"sender_username,omitempty"`
	ChatUsername   string      `json:"chat_username,omitempty"`
}

// Record — нормализованное представление события для дальнейшей обработки.
type Record struct {
	ChatID         int64
	MessageID      int64
	Text           string
	Date           time.Time
	SenderID       int64
	SenderUsername string
	ChatUsername   string
	Historical     bool
}

// markedChatID приводит ссылку на пира к «отмеченному» идентификатору чата:
// каналы уводятся в диапазон -100..., обычные группы получают знак минус,
// пользователи остаются как есть.
func markedChatID(peer *PeerRef) int64 {
	if peer == nil {
		return 0
	}
	switch {
	case peer.ChannelID != 0:
		return -1000000000000 - peer.ChannelID
	case peer.ChatID != 0:
		return -peer.ChatID
	default:
		return peer.UserID
	}
}

// ToRecord нормализует полезную нагрузку. Идентификатор чата берётся из
// верхнего уровня, при его отсутствии выводится из peer_id; сообщение без
// определимого чата непригодно для индексации (ok=false).
func (p *Payload) ToRecord(now time.Time) (Record, bool) {
	rec := Record{
		ChatID:         p.ChatID,
		MessageID:      p.MessageID,
		Text:           p.Message.Text,
		SenderUsername: p.SenderUsername,
		ChatUsername:   p.ChatUsername,
		Historical:     p.Event == "HistoricalMessage",
	}

	if rec.ChatID == 0 {
		rec.ChatID = markedChatID(p.Message.PeerID)
	}
	if rec.ChatID == 0 {
		return Record{}, false
	}
	if rec.MessageID == 0 {
		rec.MessageID = p.Message.ID
	}

	rec.SenderID = markedChatID(p.Message.FromID)

	rec.Date = now.UTC()
	if p.Message.Date != "" {
		if parsed, err := time.Parse(time.RFC3339, p.Message.Date); err == nil {
			rec.Date = parsed.UTC()
		}
	}
	return rec, true
}
