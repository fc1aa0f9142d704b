package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Location — географическая метка чата ({city, district?}), нормализованная
// к нижнему регистру при загрузке. District может быть пустым.
type Location struct {
	City     string `json:"city"`
	District string `json:"district,omitempty"`
}

// AccountEntry описывает один аккаунт-слушатель. AccountID — операционный ключ
// (обычно совпадает с телефоном); TwoFA хранится только для onboarding-скриптов
// и в рантайме пайплайна не используется.
type AccountEntry struct {
	AccountID string `json:"account_id"`
	Phone     string `json:"phone"`
	TwoFA     string `json:"twofa,omitempty"`
}

// ChatEntry описывает один наблюдаемый чат. ChatID имеет приоритет над
// Identifier; числовые строки в chat_id допустимы и приводятся к int64.
type ChatEntry struct {
	ChatID     int64
	Identifier string
	Locations  []Location
}

// UnmarshalJSON терпимо разбирает chat_id: число или числовая строка.
func (c *ChatEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChatID     json.Number `json:"chat_id"`
		Identifier string      `json:"identifier"`
		Locations  []Location  `json:"locations"`
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if s := raw.ChatID.String(); s != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("chat_id %q is not numeric: %w", s, err)
		}
		c.ChatID = id
	}
	c.Identifier = strings.TrimSpace(raw.Identifier)
	c.Locations = normalizeLocations(raw.Locations)
	return nil
}

// RealtimeConfig — содержимое realtime_config.json: список аккаунтов и список
// наблюдаемых чатов с локациями.
type RealtimeConfig struct {
	Accounts []AccountEntry `json:"accounts"`
	Chats    []ChatEntry    `json:"chats"`
}

// LoadRealtime читает и валидирует realtime-конфигурацию. Отсутствие файла —
// фатальная ошибка: без списка аккаунтов и чатов пайплайн бессмыслен.
func LoadRealtime(path string) (*RealtimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read realtime config: %w", err)
	}
	var cfg RealtimeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse realtime config %s: %w", path, err)
	}
	for i := range cfg.Accounts {
		if cfg.Accounts[i].AccountID == "" {
			cfg.Accounts[i].AccountID = cfg.Accounts[i].Phone
		}
	}
	seen := make(map[int64]struct{}, len(cfg.Chats))
	for _, ch := range cfg.Chats {
		if ch.ChatID == 0 && ch.Identifier == "" {
			return nil, fmt.Errorf("chat entry without chat_id and identifier in %s", path)
		}
		if ch.ChatID != 0 {
			if _, dup := seen[ch.ChatID]; dup {
				return nil, fmt.Errorf("duplicate chat_id %d in %s", ch.ChatID, path)
			}
			seen[ch.ChatID] = struct{}{}
		}
	}
	return &cfg, nil
}

// AccountIDs возвращает идентификаторы аккаунтов в порядке объявления.
func (c *RealtimeConfig) AccountIDs() []string {
	ids := make([]string, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		ids = append(ids, a.AccountID)
	}
	return ids
}

// Account ищет аккаунт по id или телефону.
func (c *RealtimeConfig) Account(key string) (AccountEntry, bool) {
	for _, a := range c.Accounts {
		if a.AccountID == key || a.Phone == key {
			return a, true
		}
	}
	return AccountEntry{}, false
}

// NumericChatIDs возвращает чаты, заданные каноническим числовым id.
func (c *RealtimeConfig) NumericChatIDs() []int64 {
	ids := make([]int64, 0, len(c.Chats))
	for _, ch := range c.Chats {
		if ch.ChatID != 0 {
			ids = append(ids, ch.ChatID)
		}
	}
	return ids
}

// Tokens возвращает токен каждого чата: числовой id либо identifier.
// Используется планировщиком для бутстрапа и полного пересканирования.
func (c *RealtimeConfig) Tokens() []string {
	tokens := make([]string, 0, len(c.Chats))
	for _, ch := range c.Chats {
		switch {
		case ch.ChatID != 0:
			tokens = append(tokens, strconv.FormatInt(ch.ChatID, 10))
		case ch.Identifier != "":
			tokens = append(tokens, ch.Identifier)
		}
	}
	return tokens
}

// LocationsByChat строит отображение chat_id → локации для маршрутизатора.
func (c *RealtimeConfig) LocationsByChat() map[int64][]Location {
	out := make(map[int64][]Location, len(c.Chats))
	for _, ch := range c.Chats {
		if ch.ChatID != 0 && len(ch.Locations) > 0 {
			out[ch.ChatID] = ch.Locations
		}
	}
	return out
}

// normalizeLocations приводит city/district к нижнему регистру и отбрасывает
// пустые записи.
func normalizeLocations(locs []Location) []Location {
	out := make([]Location, 0, len(locs))
	for _, l := range locs {
		city := strings.ToLower(strings.TrimSpace(l.City))
		district := strings.ToLower(strings.TrimSpace(l.District))
		if city == "" && district == "" {
			continue
		}
		out = append(out, Location{City: city, District: district})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
