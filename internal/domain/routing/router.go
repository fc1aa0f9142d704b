package routing

import (
	"os"
	"strings"
	"sync"
	"time"

	"leadpipe/internal/domain/classify"
	"leadpipe/internal/infra/logger"

	"go.uber.org/zap"
)

// Location — локация исходного чата, используемая при подборе переопределений.
type Location struct {
	City     string
	District string
}

// Destinations возвращает чаты-получатели для набора доменов сообщения и
// локаций исходного чата. Дубликаты сохраняются намеренно: одно сообщение,
// дошедшее до одного получателя через два домена, доставляется дважды.
//
// Порядок разрешения для каждого домена:
//  1. скалярная запись → напрямую;
//  2. совпадение подкатегории → переопределения подкатегории → её default;
//  3. переопределения уровня домена → default домена;
//  4. null на любом шаге → глобальный fallback; "muted" → пропуск домена.
//
// Глобальный muted_subcategories отменяет маршрутизацию всего сообщения.
func (t *Table) Destinations(domains []classify.DomainTags, locations []Location) []int64 {
	for _, d := range domains {
		for _, sub := range d.Subcategories {
			if _, muted := t.MutedSubcats[sub]; muted {
				return nil
			}
		}
	}

	var out []int64
	for _, d := range domains {
		if dest, ok := t.resolveDomain(d, locations); ok {
			out = append(out, dest)
		}
	}
	return out
}

// resolveDomain разрешает один домен сообщения в получателя.
// ok=false означает «домен заглушен».
func (t *Table) resolveDomain(d classify.DomainTags, locations []Location) (int64, bool) {
	entry, known := t.Domains[d.Domain]
	if !known {
		// Домен не описан в конфигурации — уводим в fallback.
		return t.Fallback, true
	}

	if entry.Scalar != nil {
		return t.resolveValue(*entry.Scalar)
	}

	// Подкатегории сообщения в порядке ответа LLM; первая описанная решает.
	for _, sub := range d.Subcategories {
		subEntry, ok := entry.Subcats[sub]
		if !ok {
			continue
		}
		if subEntry.Default != nil && subEntry.Default.Muted {
			return 0, false
		}
		if v, matched := matchOverride(subEntry.Overrides, locations); matched {
			return t.resolveValue(v)
		}
		if subEntry.Default != nil {
			return t.resolveValue(*subEntry.Default)
		}
		break
	}

	if v, matched := matchOverride(entry.Overrides, locations); matched {
		return t.resolveValue(v)
	}
	if entry.Default != nil {
		return t.resolveValue(*entry.Default)
	}
	return t.Fallback, true
}

// resolveValue переводит значение узла в (chat_id, доставлять?).
func (t *Table) resolveValue(v Value) (int64, bool) {
	switch {
	case v.Muted:
		return 0, false
	case v.Fallback:
		return t.Fallback, true
	default:
		return v.ChatID, true
	}
}

// matchOverride выполняет двухпроходный поиск локационного переопределения:
// сначала точное совпадение (city, district), затем правила без district по
// одному city. Первый подходящий override в порядке объявления побеждает.
func matchOverride(overrides []Override, locations []Location) (Value, bool) {
	if len(overrides) == 0 || len(locations) == 0 {
		return Value{}, false
	}

	for _, o := range overrides {
		if o.District == "" {
			continue
		}
		for _, loc := range locations {
			if loc.City == o.City && loc.District == o.District {
				return o.Value, true
			}
		}
	}

	for _, o := range overrides {
		if o.District != "" {
			continue
		}
		for _, loc := range locations {
			if loc.City != "" && loc.City == o.City {
				return o.Value, true
			}
		}
	}

	return Value{}, false
}

// NormalizeLocations приводит локации к нижнему регистру (конфиг уже
// нормализован при загрузке, но вход может прийти из внешних источников).
func NormalizeLocations(locs []Location) []Location {
	out := make([]Location, 0, len(locs))
	for _, l := range locs {
		out = append(out, Location{
			City:     strings.ToLower(strings.TrimSpace(l.City)),
			District: strings.ToLower(strings.TrimSpace(l.District)),
		})
	}
	return out
}

// Hot оборачивает Table горячей перезагрузкой по mtime файла: читатели всегда
// видят либо старую, либо новую целостную таблицу.
type Hot struct {
	path     string
	interval time.Duration

	mu        sync.Mutex
	table     *Table
	mtime     time.Time
	lastCheck time.Time
}

// NewHot загружает таблицу и настраивает перечитывание. Первая загрузка
// обязана пройти успешно: без валидной таблицы маршрутизация невозможна.
func NewHot(path string, interval time.Duration) (*Hot, error) {
	if interval < time.Second {
		interval = time.Second
	}
	table, err := Load(path)
	if err != nil {
		return nil, err
	}
	h := &Hot{path: path, interval: interval, table: table, lastCheck: time.Now()}
	if info, err := os.Stat(path); err == nil {
		h.mtime = info.ModTime()
	}
	return h, nil
}

// Snapshot возвращает актуальную таблицу, при необходимости перечитав файл.
// Ошибка перечитывания оставляет прежнюю таблицу в силе.
func (h *Hot) Snapshot() *Table {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if now.Sub(h.lastCheck) < h.interval {
		return h.table
	}
	h.lastCheck = now

	info, err := os.Stat(h.path)
	if err != nil || info.ModTime().Equal(h.mtime) {
		return h.table
	}

	table, err := Load(h.path)
	if err != nil {
		logger.Warn("routing: reload failed, keeping previous table",
			zap.String("path", h.path), zap.Error(err))
		return h.table
	}
	h.table = table
	h.mtime = info.ModTime()
	logger.Info("routing: table reloaded", zap.String("path", h.path))
	return h.table
}
