// Package prefilter — быстрый локальный фильтр сообщений перед LLM.
// Правила (подстроки и регулярные выражения) загружаются из JSON-файла и
// горячо перечитываются по изменению mtime. force-совпадение имеет приоритет
// над skip; при ошибке разбора файла действует прежний набор правил.
package prefilter

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"leadpipe/internal/infra/logger"

	"go.uber.org/zap"
)

// Decision — итог проверки текста.
type Decision string

const (
	// DecisionNone — правила не сработали, сообщение идёт в LLM.
	DecisionNone Decision = "none"
	// DecisionSkip — сообщение отсекается с синтетической классификацией.
	DecisionSkip Decision = "skip"
	// DecisionForce — сообщение принудительно помечается сигналом без LLM.
	DecisionForce Decision = "force"
)

// ruleSpec — JSON-представление одного правила. ignore_case по умолчанию true.
type ruleSpec struct {
	Pattern    string `json:"pattern"`
	Action     string `json:"action"`
	IgnoreCase *bool  `json:"ignore_case"`
}

type fileSpec struct {
	Substrings []ruleSpec `json:"substrings"`
	Regexes    []ruleSpec `json:"regexes"`
}

// substringRule — скомпилированное подстрочное правило.
type substringRule struct {
	pattern  string // исходный паттерн, попадает в список совпадений
	needle   string // приведённый к нижнему регистру при ignore_case
	action   Decision
	foldCase bool
}

// regexRule — скомпилированное регулярное правило.
type regexRule struct {
	pattern string
	re      *regexp.Regexp
	action  Decision
}

type ruleSet struct {
	substrings []substringRule
	regexes    []regexRule
}

// Prefilter хранит актуальный набор правил и перечитывает его по mtime.
// Match может вызываться конкурентно.
type Prefilter struct {
	path     string
	interval time.Duration

	mu        sync.Mutex
	rules     ruleSet
	mtime     time.Time
	lastCheck time.Time
}

// New создаёт префильтр. Первоначальная загрузка best-effort: при отсутствии
// или некорректности файла стартуем с пустым набором правил.
func New(path string, interval time.Duration) *Prefilter {
	if interval < time.Second {
		interval = time.Second
	}
	p := &Prefilter{path: path, interval: interval}
	if err := p.reload(); err != nil {
		logger.Warn("prefilter: initial load failed, starting with empty rules",
			zap.String("path", path), zap.Error(err))
	}
	return p
}

// Match проверяет текст по всем правилам и возвращает решение вместе со
// списком сработавших паттернов (без дублей, в порядке первого срабатывания).
func (p *Prefilter) Match(text string) (Decision, []string) {
	rules := p.currentRules()

	decision := DecisionNone
	var matched []string
	seen := make(map[string]struct{})

	appendMatch := func(pattern string, action Decision) {
		if _, dup := seen[pattern]; !dup {
			seen[pattern] = struct{}{}
			matched = append(matched, pattern)
		}
		if action == DecisionForce {
			decision = DecisionForce
		} else if decision == DecisionNone {
			decision = DecisionSkip
		}
	}

	lowered := strings.ToLower(text)
	for _, r := range rules.substrings {
		haystack := text
		if r.foldCase {
			haystack = lowered
		}
		if strings.Contains(haystack, r.needle) {
			appendMatch(r.pattern, r.action)
		}
	}
	for _, r := range rules.regexes {
		if r.re.MatchString(text) {
			appendMatch(r.pattern, r.action)
		}
	}

	return decision, matched
}

// currentRules возвращает актуальный набор правил, при необходимости
// перечитывая файл. Проверка mtime выполняется не чаще interval.
func (p *Prefilter) currentRules() ruleSet {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.lastCheck) < p.interval {
		return p.rules
	}
	p.lastCheck = now

	info, err := os.Stat(p.path)
	if err != nil {
		// Файл исчез — работаем по прежним правилам.
		return p.rules
	}
	if info.ModTime().Equal(p.mtime) {
		return p.rules
	}

	if err := p.reloadLocked(info.ModTime()); err != nil {
		logger.Warn("prefilter: reload failed, keeping previous rules",
			zap.String("path", p.path), zap.Error(err))
	}
	return p.rules
}

// reload выполняет первичную загрузку под мьютексом.
func (p *Prefilter) reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, err := os.Stat(p.path)
	if err != nil {
		return err
	}
	p.lastCheck = time.Now()
	return p.reloadLocked(info.ModTime())
}

// reloadLocked парсит и компилирует файл правил. Набор подменяется только
// при полном успехе; любая ошибка оставляет прежние правила нетронутыми.
func (p *Prefilter) reloadLocked(mtime time.Time) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}
	var spec fileSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}

	var rules ruleSet
	for _, rs := range spec.Substrings {
		action, err := parseAction(rs.Action)
		if err != nil {
			return err
		}
		if rs.Pattern == "" {
			return fmt.Errorf("substring rule with empty pattern")
		}
		fold := rs.IgnoreCase == nil || *rs.IgnoreCase
		needle := rs.Pattern
		if fold {
			needle = strings.ToLower(needle)
		}
		rules.substrings = append(rules.substrings, substringRule{
			pattern:  rs.Pattern,
			needle:   needle,
			action:   action,
			foldCase: fold,
		})
	}
	for _, rs := range spec.Regexes {
		action, err := parseAction(rs.Action)
		if err != nil {
			return err
		}
		expr := rs.Pattern
		if rs.IgnoreCase == nil || *rs.IgnoreCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("compile regex %q: %w", rs.Pattern, err)
		}
		rules.regexes = append(rules.regexes, regexRule{
			pattern: rs.Pattern,
			re:      re,
			action:  action,
		})
	}

	p.rules = rules
	p.mtime = mtime
	logger.Debug("prefilter: rules reloaded",
		zap.Int("substrings", len(rules.substrings)),
		zap.Int("regexes", len(rules.regexes)))
	return nil
}

func parseAction(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return DecisionSkip, nil
	case "force":
		return DecisionForce, nil
	default:
		return DecisionNone, fmt.Errorf("unknown rule action %q", s)
	}
}
