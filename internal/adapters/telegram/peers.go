// Package telegram — адаптер MTProto-клиента gotd: сессии в Redis, сборка
// клиента с middlewares, выгрузка диалогов и чтение истории.
package telegram

import "github.com/gotd/td/tg"

// superPrefix — префикс «отмеченного» идентификатора каналов и супергрупп.
const superPrefix int64 = -1000000000000

// MarkedPeerID нормализует пира до сквозного идентификатора чата, единого для
// всего пайплайна: канал → -100<id>, группа → -<id>, пользователь → <id>.
// Возвращает 0 для неизвестного типа peer.
func MarkedPeerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return superPrefix - p.ChannelID
	default:
		return 0
	}
}

// UnmarkChannelID возвращает исходный channel_id для отмеченного
// идентификатора супергруппы. ok=false, если id не из диапазона каналов.
func UnmarkChannelID(marked int64) (int64, bool) {
	if marked >= superPrefix {
		return 0, false
	}
	return superPrefix - marked, true
}
