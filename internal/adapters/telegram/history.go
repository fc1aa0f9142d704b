package telegram

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

const historyPageLimit = 100

// ErrStopHistory прерывает обход истории без ошибки.
var ErrStopHistory = errors.New("stop history")

// ForEachHistory читает историю чата от новых сообщений к старым и вызывает
// fn для каждого текстового сообщения. Обход останавливается на водяном
// знаке minID (сообщения с id <= minID уже проиндексированы), на границе
// oldest по дате либо когда fn возвращает ErrStopHistory.
func ForEachHistory(
	ctx context.Context,
	api *tg.Client,
	peer tg.InputPeerClass,
	minID int64,
	oldest time.Time,
	fn func(msg *tg.Message) error,
) error {
	offsetID := 0
	for {
		resp, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    historyPageLimit,
			MinID:    int(minID),
		})
		if err != nil {
			return errors.Wrap(err, "MessagesGetHistory")
		}

		messages, err := historyMessages(resp)
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		count := 0
		for _, entity := range messages {
			msg, ok := entity.(*tg.Message)
			if !ok {
				continue
			}
			if int64(msg.ID) <= minID {
				return nil
			}
			if !oldest.IsZero() && time.Unix(int64(msg.Date), 0).Before(oldest) {
				return nil
			}
			if offsetID == 0 || msg.ID < offsetID {
				offsetID = msg.ID
			}
			count++
			if err := fn(msg); err != nil {
				if errors.Is(err, ErrStopHistory) {
					return nil
				}
				return err
			}
		}

		if len(messages) < historyPageLimit {
			return nil
		}
		if count == 0 {
			// Страница целиком из сервисных сообщений: двигаем офсет по
			// последнему элементу, чтобы не зациклиться.
			if id := lastMessageID(messages); id > 0 && (offsetID == 0 || id < offsetID) {
				offsetID = id
			} else {
				return nil
			}
		}
	}
}

func historyMessages(resp tg.MessagesMessagesClass) ([]tg.MessageClass, error) {
	switch data := resp.(type) {
	case *tg.MessagesMessages:
		return data.Messages, nil
	case *tg.MessagesMessagesSlice:
		return data.Messages, nil
	case *tg.MessagesChannelMessages:
		return data.Messages, nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil
	default:
		return nil, errors.Errorf("unexpected history response: %T", resp)
	}
}

func lastMessageID(messages []tg.MessageClass) int {
	last := messages[len(messages)-1]
	switch item := last.(type) {
	case *tg.Message:
		return item.ID
	case *tg.MessageService:
		return item.ID
	default:
		return 0
	}
}
