package classify

import (
	"fmt"
	"strconv"
	"strings"
)

// compactFieldCount — число полей компактной строки:
// id|интенты|домены|подкатегории|спам|срочность|обоснование.
const compactFieldCount = 7

// DomainTags — домен с выбранными подкатегориями (в порядке ответа LLM).
type DomainTags struct {
	Domain        string   `json:"domain"`
	Subcategories []string `json:"subcategories"`
}

// Classification — разобранный результат классификации одного сообщения.
// NeedsReview выставляется, когда LLM вернула только NONE: такие сообщения
// уходят на ручной разбор вместо угадывания реального домена.
type Classification struct {
	ID          string
	Intents     []string
	Domains     []DomainTags
	IsSpam      bool
	Urgency     int
	Reasoning   string
	NeedsReview bool
}

// DecodeLine разбирает одну строку компактного протокола
// `id|1,2|3|3=1,2;5=4|0|3|краткое обоснование`. Коды 1-based, в порядке
// объявления таксономии. Подкатегории допускаются только для доменов,
// выбранных в третьем поле. NONE, встретившийся рядом с реальными доменами,
// отбрасывается; NONE в одиночку сохраняется и помечает NeedsReview.
func DecodeLine(line string) (Classification, error) {
	var c Classification

	fields := strings.SplitN(line, "|", compactFieldCount)
	if len(fields) != compactFieldCount {
		return c, fmt.Errorf("expected %d fields, got %d", compactFieldCount, len(fields))
	}

	c.ID = strings.TrimSpace(fields[0])
	if c.ID == "" {
		return c, fmt.Errorf("empty id field")
	}

	intents, err := parseIntentCodes(fields[1])
	if err != nil {
		return c, err
	}
	c.Intents = intents

	domains, err := parseDomainCodes(fields[2])
	if err != nil {
		return c, err
	}

	subsByDomain, err := parseSubBlock(fields[3], domains)
	if err != nil {
		return c, err
	}

	domains = coalesceNone(domains)
	if len(domains) == 1 && domains[0] == DomainNone {
		c.NeedsReview = true
	}
	for _, d := range domains {
		c.Domains = append(c.Domains, DomainTags{
			Domain:        d,
			Subcategories: subsByDomain[d],
		})
	}

	switch strings.TrimSpace(fields[4]) {
	case "0":
		c.IsSpam = false
	case "1":
		c.IsSpam = true
	default:
		return c, fmt.Errorf("spam flag %q is not 0 or 1", fields[4])
	}

	urgency, err := strconv.Atoi(strings.TrimSpace(fields[5]))
	if err != nil || urgency < 1 || urgency > 5 {
		return c, fmt.Errorf("urgency %q is not in 1..5", fields[5])
	}
	c.Urgency = urgency

	c.Reasoning = strings.TrimSpace(fields[6])
	return c, nil
}

// EncodeLine — обратная операция к DecodeLine. Используется в тестах протокола
// и при построении few-shot примеров промпта.
func EncodeLine(c Classification) (string, error) {
	intentCodes := make([]string, 0, len(c.Intents))
	for _, in := range c.Intents {
		code := IntentCode(in)
		if code == 0 {
			return "", fmt.Errorf("unknown intent %q", in)
		}
		intentCodes = append(intentCodes, strconv.Itoa(code))
	}

	domainCodes := make([]string, 0, len(c.Domains))
	subParts := make([]string, 0, len(c.Domains))
	for _, d := range c.Domains {
		code := DomainCode(d.Domain)
		if code == 0 {
			return "", fmt.Errorf("unknown domain %q", d.Domain)
		}
		domainCodes = append(domainCodes, strconv.Itoa(code))
		if len(d.Subcategories) == 0 {
			continue
		}
		subCodes := make([]string, 0, len(d.Subcategories))
		for _, s := range d.Subcategories {
			sc := SubcategoryCode(d.Domain, s)
			if sc == 0 {
				return "", fmt.Errorf("unknown subcategory %q of domain %q", s, d.Domain)
			}
			subCodes = append(subCodes, strconv.Itoa(sc))
		}
		subParts = append(subParts, strconv.Itoa(code)+"="+strings.Join(subCodes, ","))
	}

	spam := "0"
	if c.IsSpam {
		spam = "1"
	}

	return strings.Join([]string{
		c.ID,
		strings.Join(intentCodes, ","),
		strings.Join(domainCodes, ","),
		strings.Join(subParts, ";"),
		spam,
		strconv.Itoa(c.Urgency),
		c.Reasoning,
	}, "|"), nil
}

// parseIntentCodes разбирает CSV кодов интентов с дедупликацией в порядке появления.
func parseIntentCodes(field string) ([]string, error) {
	parts := splitCSV(field)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty intents field")
	}
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		code, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("intent code %q is not a number", p)
		}
		intent, ok := IntentByCode(code)
		if !ok {
			return nil, fmt.Errorf("unknown intent code %d", code)
		}
		if _, dup := seen[intent]; dup {
			continue
		}
		seen[intent] = struct{}{}
		out = append(out, intent)
	}
	return out, nil
}

// parseDomainCodes разбирает CSV кодов доменов с дедупликацией в порядке появления.
func parseDomainCodes(field string) ([]string, error) {
	parts := splitCSV(field)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty domains field")
	}
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		code, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("domain code %q is not a number", p)
		}
		domain, ok := DomainByCode(code)
		if !ok {
			return nil, fmt.Errorf("unknown domain code %d", code)
		}
		if _, dup := seen[domain]; dup {
			continue
		}
		seen[domain] = struct{}{}
		out = append(out, domain)
	}
	return out, nil
}

// parseSubBlock разбирает блок `d=s1,s2;d2=s3`. Домен каждой записи обязан
// присутствовать среди выбранных доменов, подкатегории — в таксономии домена.
func parseSubBlock(field string, domains []string) (map[string][]string, error) {
	out := make(map[string][]string)
	block := strings.TrimSpace(field)
	if block == "" {
		return out, nil
	}

	selected := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		selected[d] = struct{}{}
	}

	for _, entry := range strings.Split(block, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		dPart, sPart, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("sub-block entry %q has no '='", entry)
		}
		dCode, err := strconv.Atoi(strings.TrimSpace(dPart))
		if err != nil {
			return nil, fmt.Errorf("sub-block domain code %q is not a number", dPart)
		}
		domain, ok := DomainByCode(dCode)
		if !ok {
			return nil, fmt.Errorf("unknown domain code %d in sub-block", dCode)
		}
		if _, ok := selected[domain]; !ok {
			return nil, fmt.Errorf("sub-block references domain %s not selected in domains field", domain)
		}
		if domain == DomainNone {
			return nil, fmt.Errorf("domain NONE cannot carry subcategories")
		}
		for _, sc := range splitCSV(sPart) {
			code, err := strconv.Atoi(sc)
			if err != nil {
				return nil, fmt.Errorf("subcategory code %q is not a number", sc)
			}
			sub, ok := SubcategoryByCode(domain, code)
			if !ok {
				return nil, fmt.Errorf("unknown subcategory code %d for domain %s", code, domain)
			}
			out[domain] = append(out[domain], sub)
		}
	}
	return out, nil
}

// coalesceNone отбрасывает NONE, если рядом есть реальные домены.
func coalesceNone(domains []string) []string {
	if len(domains) <= 1 {
		return domains
	}
	out := domains[:0]
	for _, d := range domains {
		if d == DomainNone {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return []string{DomainNone}
	}
	return out
}

// splitCSV режет строку по запятым, обрезая пробелы и отбрасывая пустые элементы.
func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
