package telegram

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

const dialogPageLimit = 100

var errDialogsNotModified = errors.New("dialogs not modified")

// Dialog — известный аккаунту чат в терминах пайплайна.
type Dialog struct {
	ChatID   int64 // отмеченный идентификатор
	Title    string
	Username string
	Input    tg.InputPeerClass
}

// FetchDialogs последовательно выгружает весь список диалогов аккаунта с
// пагинацией по (offset_date, offset_id, offset_peer). Возвращает диалоги,
// проиндексированные отмеченным идентификатором чата.
func FetchDialogs(ctx context.Context, api *tg.Client) (map[int64]Dialog, error) {
	out := make(map[int64]Dialog)

	offsetDate := 0
	offsetID := 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageLimit,
		})
		if err != nil {
			return nil, errors.Wrap(err, "MessagesGetDialogs")
		}

		batch, err := normalizeDialogs(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return out, nil
			}
			return nil, err
		}
		if len(batch.Dialogs) == 0 {
			break
		}

		collectHashes(batch, userHashes, channelHashes)
		collectDialogs(batch, userHashes, channelHashes, out)

		prevOffsetDate := offsetDate
		prevOffsetID := offsetID

		last := batch.Dialogs[len(batch.Dialogs)-1]
		switch dlg := last.(type) {
		case *tg.Dialog:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = peerToInput(dlg.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = peerToInput(dlg.Peer, userHashes, channelHashes)
		default:
			offsetPeer = &tg.InputPeerEmpty{}
		}
		if offsetDate == 0 {
			offsetDate = prevOffsetDate
		}
		if offsetID == 0 {
			offsetID = prevOffsetID
		}

		if len(batch.Dialogs) < dialogPageLimit {
			break
		}
	}

	return out, nil
}

func normalizeDialogs(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, errors.Errorf("unexpected dialogs response: %T", resp)
	}
}

func collectHashes(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

func collectDialogs(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64, out map[int64]Dialog) {
	for _, entity := range batch.Chats {
		switch chat := entity.(type) {
		case *tg.Chat:
			out[-chat.ID] = Dialog{
				ChatID: -chat.ID,
				Title:  chat.Title,
				Input:  &tg.InputPeerChat{ChatID: chat.ID},
			}
		case *tg.Channel:
			marked := superPrefix - chat.ID
			out[marked] = Dialog{
				ChatID:   marked,
				Title:    chat.Title,
				Username: chat.Username,
				Input: &tg.InputPeerChannel{
					ChannelID:  chat.ID,
					AccessHash: channelHashes[chat.ID],
				},
			}
		}
	}
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			out[user.ID] = Dialog{
				ChatID:   user.ID,
				Title:    user.FirstName,
				Username: user.Username,
				Input: &tg.InputPeerUser{
					UserID:     user.ID,
					AccessHash: userHashes[user.ID],
				},
			}
		}
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return 0
}

func peerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{UserID: entity.UserID, AccessHash: userHashes[entity.UserID]}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: entity.ChannelID, AccessHash: channelHashes[entity.ChannelID]}
	default:
		return &tg.InputPeerEmpty{}
	}
}
