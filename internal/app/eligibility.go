package app

import (
	"context"

	"leadpipe/internal/adapters/redisstore"
	tgadapter "leadpipe/internal/adapters/telegram"

	"github.com/go-faster/errors"
)

// DialogEligibility читает список диалогов аккаунта из Telegram. Планировщик
// закрепляет за аккаунтом только те чаты, в которых тот действительно
// состоит: подписка на чужой чат всё равно не дала бы апдейтов.
type DialogEligibility struct {
	APIID    int
	APIHash  string
	Sessions *redisstore.SessionStore
}

// AllowedChats возвращает набор чатов из диалогов аккаунта. Клиент
// поднимается на время одного запроса и закрывается вместе с контекстом.
func (d *DialogEligibility) AllowedChats(ctx context.Context, accountID string) (map[int64]struct{}, error) {
	client := tgadapter.NewClient(tgadapter.Options{
		APIID:     d.APIID,
		APIHash:   d.APIHash,
		AccountID: accountID,
		Sessions:  d.Sessions,
	})

	var chats map[int64]struct{}
	err := client.Run(ctx, func(ctx context.Context) error {
		dialogs, err := tgadapter.FetchDialogs(ctx, client.API())
		if err != nil {
			return err
		}
		chats = make(map[int64]struct{}, len(dialogs))
		for chatID := range dialogs {
			chats[chatID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dialogs for %s", accountID)
	}
	return chats, nil
}
