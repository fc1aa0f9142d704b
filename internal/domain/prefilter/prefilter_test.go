package prefilter

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeRules(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
}

func newTestFilter(t *testing.T, content string) *Prefilter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefilter.json")
	writeRules(t, path, content)
	return New(path, time.Second)
}

func TestMatchSubstrings(t *testing.T) {
	t.Parallel()

	p := newTestFilter(t, `{
		"substrings": [
			{"pattern": "реклам", "action": "skip"},
			{"pattern": "пожар", "action": "force"},
			{"pattern": "CaseSensitive", "action": "skip", "ignore_case": false}
		]
	}`)

	tests := []struct {
		name         string
		text         string
		wantDecision Decision
		wantPatterns []string
	}{
		{"no match", "обычное сообщение", DecisionNone, nil},
		{"skip", "свежая РЕКЛАМА услуг", DecisionSkip, []string{"реклам"}},
		{"force wins over skip", "реклама: у нас пожар", DecisionForce, []string{"реклам", "пожар"}},
		{"case sensitive no match", "casesensitive", DecisionNone, nil},
		{"case sensitive match", "а вот CaseSensitive", DecisionSkip, []string{"CaseSensitive"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decision, patterns := p.Match(tt.text)
			if decision != tt.wantDecision {
				t.Errorf("Match(%q) decision = %q, want %q", tt.text, decision, tt.wantDecision)
			}
			if !reflect.DeepEqual(patterns, tt.wantPatterns) {
				t.Errorf("Match(%q) patterns = %v, want %v", tt.text, patterns, tt.wantPatterns)
			}
		})
	}
}

func TestMatchRegex(t *testing.T) {
	t.Parallel()

	p := newTestFilter(t, `{
		"regexes": [
			{"pattern": "\\b8-9\\d{2}-\\d{3}\\b", "action": "skip"},
			{"pattern": "срочно.*помогите", "action": "force"}
		]
	}`)

	if d, _ := p.Match("звоните 8-916-555"); d != DecisionSkip {
		t.Errorf("phone regex decision = %q, want skip", d)
	}
	if d, _ := p.Match("СРОЧНО прошу ПОМОГИТЕ"); d != DecisionForce {
		t.Errorf("force regex decision = %q, want force", d)
	}
}

func TestMatchEmptyRuleset(t *testing.T) {
	t.Parallel()

	p := newTestFilter(t, `{}`)
	decision, patterns := p.Match("любой текст")
	if decision != DecisionNone || len(patterns) != 0 {
		t.Errorf("Match on empty rules = (%q, %v), want (none, [])", decision, patterns)
	}
}

func TestMatchDeduplicatesPatterns(t *testing.T) {
	t.Parallel()

	p := newTestFilter(t, `{
		"substrings": [{"pattern": "куплю", "action": "skip"}],
		"regexes": [{"pattern": "куплю", "action": "skip"}]
	}`)
	_, patterns := p.Match("куплю гараж, куплю дачу")
	if !reflect.DeepEqual(patterns, []string{"куплю"}) {
		t.Errorf("patterns = %v, want single deduplicated entry", patterns)
	}
}

func TestHotReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prefilter.json")
	writeRules(t, path, `{"substrings": [{"pattern": "старое", "action": "skip"}]}`)
	p := New(path, time.Second)

	if d, _ := p.Match("старое правило"); d != DecisionSkip {
		t.Fatalf("initial rules not loaded")
	}

	writeRules(t, path, `{"substrings": [{"pattern": "новое", "action": "force"}]}`)
	// Сдвигаем mtime и обнуляем троттлинг проверки, чтобы не спать в тесте.
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	p.mu.Lock()
	p.lastCheck = time.Time{}
	p.mu.Unlock()

	if d, _ := p.Match("новое правило"); d != DecisionForce {
		t.Errorf("reloaded rules not applied")
	}
	if d, _ := p.Match("старое правило"); d != DecisionNone {
		t.Errorf("stale rules still active after reload")
	}
}

func TestReloadKeepsRulesOnParseError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prefilter.json")
	writeRules(t, path, `{"substrings": [{"pattern": "реклам", "action": "skip"}]}`)
	p := New(path, time.Second)

	writeRules(t, path, `{broken json`)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	p.mu.Lock()
	p.lastCheck = time.Time{}
	p.mu.Unlock()

	if d, _ := p.Match("реклама"); d != DecisionSkip {
		t.Errorf("previous rules lost after failed reload")
	}
}
