package telegram

import (
	"time"

	"leadpipe/internal/adapters/bus"

	"github.com/gotd/td/tg"
)

// События пайплайна, публикуемые в обменники.
const (
	EventNewMessage        = "NewMessage"
	EventHistoricalMessage = "HistoricalMessage"
)

// BuildPayload собирает полезную нагрузку шины из сообщения MTProto.
// Имена отправителя и чата добавляет вызывающий код: у listener'а они берутся
// из сущностей апдейта, у бэкфиллера — из справочника диалогов.
func BuildPayload(event string, msg *tg.Message, senderUsername, chatUsername string) bus.Payload {
	body := bus.MessageBody{
		ID:   int64(msg.ID),
		Text: msg.Message,
		Date: time.Unix(int64(msg.Date), 0).UTC().Format(time.RFC3339),
	}
	if peer, ok := msg.GetFromID(); ok {
		body.FromID = peerRef(peer)
	}
	body.PeerID = peerRef(msg.PeerID)

	return bus.Payload{
		Event:          event,
		ChatID:         MarkedPeerID(msg.PeerID),
		MessageID:      int64(msg.ID),
		Message:        body,
		SenderUsername: senderUsername,
		ChatUsername:   chatUsername,
	}
}

func peerRef(peer tg.PeerClass) *bus.PeerRef {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return &bus.PeerRef{UserID: p.UserID}
	case *tg.PeerChat:
		return &bus.PeerRef{ChatID: p.ChatID}
	case *tg.PeerChannel:
		return &bus.PeerRef{ChannelID: p.ChannelID}
	default:
		return nil
	}
}
