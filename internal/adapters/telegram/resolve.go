package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
)

// Resolve находит чат по ссылке из конфигурации: числовой (в том числе
// отмеченный) идентификатор ищется среди диалогов аккаунта, @username
// резолвится через ContactsResolveUsername.
func Resolve(ctx context.Context, api *tg.Client, dialogs map[int64]Dialog, ref string) (Dialog, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Dialog{}, errors.New("empty chat reference")
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		dialog, ok := dialogs[id]
		if !ok {
			return Dialog{}, errors.Errorf("chat %d is not among account dialogs", id)
		}
		return dialog, nil
	}

	return resolveUsername(ctx, api, strings.TrimPrefix(ref, "@"))
}

func resolveUsername(ctx context.Context, api *tg.Client, username string) (Dialog, error) {
	resolved, err := api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return Dialog{}, errors.Wrapf(err, "resolve @%s", username)
	}

	for _, entity := range resolved.Chats {
		switch chat := entity.(type) {
		case *tg.Channel:
			return Dialog{
				ChatID:   superPrefix - chat.ID,
				Title:    chat.Title,
				Username: chat.Username,
				Input: &tg.InputPeerChannel{
					ChannelID:  chat.ID,
					AccessHash: chat.AccessHash,
				},
			}, nil
		case *tg.Chat:
			return Dialog{
				ChatID: -chat.ID,
				Title:  chat.Title,
				Input:  &tg.InputPeerChat{ChatID: chat.ID},
			}, nil
		}
	}
	for _, entity := range resolved.Users {
		if user, ok := entity.(*tg.User); ok {
			return Dialog{
				ChatID:   user.ID,
				Title:    user.FirstName,
				Username: user.Username,
				Input: &tg.InputPeerUser{
					UserID:     user.ID,
					AccessHash: user.AccessHash,
				},
			}, nil
		}
	}
	return Dialog{}, errors.Errorf("@%s resolved to nothing usable", username)
}
