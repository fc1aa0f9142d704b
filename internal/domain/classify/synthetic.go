package classify

import "strings"

// Синтетические классификации для сообщений, которые не ходят в LLM:
// форс-правила префильтра, skip-правила, пустой текст и отказ LLM.

// Forced — классификация сообщения, поднятого форс-правилом префильтра:
// считаем его заявкой в строительно-ремонтном домене со средней срочностью.
func Forced(patterns []string) Classification {
	return Classification{
		Intents:   []string{IntentRequest},
		Domains:   []DomainTags{{Domain: DomainConstruction, Subcategories: []string{}}},
		Urgency:   3,
		Reasoning: "Forced by prefilter rules: " + strings.Join(patterns, ", "),
	}
}

// Filtered — классификация сообщения, отсечённого skip-правилом.
func Filtered(patterns []string) Classification {
	return Classification{
		Intents:   []string{IntentOther},
		Domains:   []DomainTags{{Domain: DomainNone, Subcategories: []string{}}},
		Urgency:   1,
		Reasoning: "Filtered by prefilter rules: " + strings.Join(patterns, ", "),
	}
}

// EmptyText — классификация сообщения без текста (стикеры, медиа и т.п.).
func EmptyText() Classification {
	return Classification{
		Intents:   []string{IntentOther},
		Domains:   []DomainTags{{Domain: DomainNone, Subcategories: []string{}}},
		Urgency:   1,
		Reasoning: "Empty message text",
	}
}

// Failure — классификация-заглушка при ошибке LLM (parse_error, missing_result
// и прочие невосстановимые отказы): сообщение сохраняется, но без разметки.
func Failure(reason string) Classification {
	return Classification{
		Intents:   []string{IntentOther},
		Domains:   []DomainTags{{Domain: DomainNone, Subcategories: []string{}}},
		Urgency:   1,
		Reasoning: reason,
	}
}
