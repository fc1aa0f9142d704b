// Package routing отображает классифицированное сообщение (домены,
// подкатегории, локации исходного чата) на список чатов-получателей.
// Конфигурация — JSON с полиморфными значениями: числовой chat_id,
// null (использовать fallback) либо сентинел "muted"/false (заглушить узел).
package routing

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Value — разобранное значение узла маршрутизации.
type Value struct {
	Muted    bool
	Fallback bool
	ChatID   int64
}

// Override — локационное переопределение получателя. District пустой для
// правил уровня города.
type Override struct {
	City     string
	District string
	Value    Value
}

// SubEntry — запись подкатегории: собственный получатель и/или локационные
// переопределения.
type SubEntry struct {
	Default   *Value
	Overrides []Override
}

// Entry — запись домена. Ровно один из вариантов:
//   - Scalar != nil — скалярная форма (int | null | muted);
//   - структурная форма с Default/Overrides/Subcats.
type Entry struct {
	Scalar    *Value
	Default   *Value
	Overrides []Override
	Subcats   map[string]SubEntry
}

// Table — полная таблица маршрутизации. Fallback обязателен.
type Table struct {
	Domains      map[string]Entry
	MutedSubcats map[string]struct{}
	Fallback     int64
}

// rawTable — промежуточная JSON-форма до разбора полиморфных значений.
type rawTable struct {
	Domains   map[string]json.RawMessage `json:"domains"`
	Muted     []string                   `json:"muted_subcategories"`
	Fallback  *int64                     `json:"fallback"`
}

// Parse разбирает конфигурацию маршрутизации. Отсутствие fallback —
// фатальная ошибка загрузки.
func Parse(data []byte) (*Table, error) {
	var raw rawTable
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse routing config: %w", err)
	}
	if raw.Fallback == nil {
		return nil, fmt.Errorf("routing config: required field \"fallback\" is missing")
	}

	t := &Table{
		Domains:      make(map[string]Entry, len(raw.Domains)),
		MutedSubcats: make(map[string]struct{}, len(raw.Muted)),
		Fallback:     *raw.Fallback,
	}
	for _, s := range raw.Muted {
		s = strings.TrimSpace(s)
		if s != "" {
			t.MutedSubcats[s] = struct{}{}
		}
	}

	for domain, rawEntry := range raw.Domains {
		entry, err := parseEntry(rawEntry)
		if err != nil {
			return nil, fmt.Errorf("routing config: domain %s: %w", domain, err)
		}
		t.Domains[domain] = entry
	}
	return t, nil
}

// Load читает и разбирает файл конфигурации.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing config: %w", err)
	}
	return Parse(data)
}

// parseEntry различает скалярную и структурную формы записи домена.
func parseEntry(raw json.RawMessage) (Entry, error) {
	if v, ok, err := tryParseValue(raw); err != nil {
		return Entry{}, err
	} else if ok {
		return Entry{Scalar: &v}, nil
	}

	var structured struct {
		Default       json.RawMessage            `json:"default"`
		Overrides     []rawOverride              `json:"location_overrides"`
		Subcategories map[string]json.RawMessage `json:"subcategories"`
	}
	if err := json.Unmarshal(raw, &structured); err != nil {
		return Entry{}, fmt.Errorf("structured entry: %w", err)
	}

	entry := Entry{}
	if len(structured.Default) > 0 {
		v, err := parseValue(structured.Default)
		if err != nil {
			return Entry{}, fmt.Errorf("default: %w", err)
		}
		entry.Default = &v
	}
	overrides, err := parseOverrides(structured.Overrides)
	if err != nil {
		return Entry{}, err
	}
	entry.Overrides = overrides

	if len(structured.Subcategories) > 0 {
		entry.Subcats = make(map[string]SubEntry, len(structured.Subcategories))
		for name, rawSub := range structured.Subcategories {
			sub, err := parseSubEntry(rawSub)
			if err != nil {
				return Entry{}, fmt.Errorf("subcategory %s: %w", name, err)
			}
			entry.Subcats[name] = sub
		}
	}
	return entry, nil
}

// parseSubEntry разбирает запись подкатегории: скаляр или {default, location_overrides}.
func parseSubEntry(raw json.RawMessage) (SubEntry, error) {
	if v, ok, err := tryParseValue(raw); err != nil {
		return SubEntry{}, err
	} else if ok {
		return SubEntry{Default: &v}, nil
	}

	var structured struct {
		Default   json.RawMessage `json:"default"`
		Overrides []rawOverride   `json:"location_overrides"`
	}
	if err := json.Unmarshal(raw, &structured); err != nil {
		return SubEntry{}, err
	}
	sub := SubEntry{}
	if len(structured.Default) > 0 {
		v, err := parseValue(structured.Default)
		if err != nil {
			return SubEntry{}, fmt.Errorf("default: %w", err)
		}
		sub.Default = &v
	}
	overrides, err := parseOverrides(structured.Overrides)
	if err != nil {
		return SubEntry{}, err
	}
	sub.Overrides = overrides
	return sub, nil
}

type rawOverride struct {
	City     string          `json:"city"`
	District string          `json:"district"`
	ChatID   json.RawMessage `json:"chat_id"`
}

func parseOverrides(raws []rawOverride) ([]Override, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	out := make([]Override, 0, len(raws))
	for _, r := range raws {
		city := strings.ToLower(strings.TrimSpace(r.City))
		if city == "" {
			return nil, fmt.Errorf("location override without city")
		}
		v := Value{Fallback: true}
		if len(r.ChatID) > 0 {
			parsed, err := parseValue(r.ChatID)
			if err != nil {
				return nil, fmt.Errorf("override %s: %w", city, err)
			}
			v = parsed
		}
		out = append(out, Override{
			City:     city,
			District: strings.ToLower(strings.TrimSpace(r.District)),
			Value:    v,
		})
	}
	return out, nil
}

// tryParseValue пытается разобрать raw как скалярное значение узла.
// Возвращает ok=false для JSON-объектов (структурная форма).
func tryParseValue(raw json.RawMessage) (Value, bool, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		return Value{}, false, nil
	}
	v, err := parseValue(raw)
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

// parseValue разбирает скалярное значение: число → ChatID, null → Fallback,
// false или строка "muted" → Muted.
func parseValue(raw json.RawMessage) (Value, error) {
	trimmed := strings.TrimSpace(string(raw))
	switch trimmed {
	case "null":
		return Value{Fallback: true}, nil
	case "false":
		return Value{Muted: true}, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.EqualFold(strings.TrimSpace(asString), "muted") {
			return Value{Muted: true}, nil
		}
		return Value{}, fmt.Errorf("unsupported routing value %q", asString)
	}

	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return Value{ChatID: asInt}, nil
	}

	return Value{}, fmt.Errorf("unsupported routing value %s", trimmed)
}
