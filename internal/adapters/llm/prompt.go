package llm

import (
	"fmt"
	"strings"
	"sync"

	"leadpipe/internal/domain/classify"
)

// maxItemRunes ограничивает длину одного сообщения в батче, чтобы держать
// размер промпта предсказуемым.
const maxItemRunes = 2000

var (
	systemPromptOnce sync.Once
	systemPromptText string
)

// systemPrompt собирает статический системный промпт: полная таксономия с
// числовыми кодами и строгий формат ответа. Собирается один раз.
func systemPrompt() string {
	systemPromptOnce.Do(func() {
		var b strings.Builder

		b.WriteString("You are a classifier for messages from Russian-speaking residential community chats.\n")
		b.WriteString("For every input message output exactly one line, no extra text, in the format:\n")
		b.WriteString("id|intent-codes|domain-codes|domain=subcategory-codes|spam|urgency|reasoning\n\n")
		b.WriteString("Fields:\n")
		b.WriteString("- id: the numeric id of the input message, unchanged;\n")
		b.WriteString("- intent-codes: comma-separated codes from INTENTS;\n")
		b.WriteString("- domain-codes: comma-separated codes from DOMAINS;\n")
		b.WriteString("- subcategory block: semicolon-separated `domain=codes` pairs, only for selected domains; empty if none;\n")
		b.WriteString("- spam: 1 if the message is advertising/spam, otherwise 0;\n")
		b.WriteString("- urgency: integer 1..5;\n")
		b.WriteString("- reasoning: short single-line justification in Russian, no pipe characters.\n\n")

		b.WriteString("INTENTS:\n")
		for i, intent := range classify.Intents() {
			fmt.Fprintf(&b, "%d=%s\n", i+1, intent)
		}

		b.WriteString("\nDOMAINS:\n")
		for i, domain := range classify.Domains() {
			fmt.Fprintf(&b, "%d=%s\n", i+1, domain)
			for j, sub := range classify.Subcategories(domain) {
				fmt.Fprintf(&b, "  %d.%d=%s\n", i+1, j+1, sub)
			}
		}

		b.WriteString("\nRules:\n")
		b.WriteString("- use NONE only when no other domain applies;\n")
		b.WriteString("- never pair NONE with subcategories;\n")
		b.WriteString("- one output line per input line, same order;\n")
		b.WriteString("- example: 1|1|1|1=2|0|3|Ищет ремонтную бригаду\n")

		systemPromptText = b.String()
	})
	return systemPromptText
}

// userContent строит пользовательскую часть запроса: короткая преамбула и
// перенумерованные сообщения, по одному на строку.
func userContent(items []Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify the following %d messages:\n", len(items))
	for i, item := range items {
		fmt.Fprintf(&b, "%d|%s\n", i+1, flattenText(item.Text))
	}
	return b.String()
}

// flattenText схлопывает переводы строк и вертикальные черты, чтобы текст
// сообщения не ломал строчный протокол, и обрезает слишком длинные тексты.
func flattenText(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, "|", "/")
	runes := []rune(text)
	if len(runes) > maxItemRunes {
		text = string(runes[:maxItemRunes]) + "…"
	}
	return strings.TrimSpace(text)
}
