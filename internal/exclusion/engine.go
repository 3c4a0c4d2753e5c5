package exclusion

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Candidate describes the foreground window of a frame about to be captured.
type Candidate struct {
	AppName     string
	WindowTitle string
	URL         string
}

type compiledRule struct {
	rule  Rule
	lower string
	re    *regexp.Regexp
}

// Engine evaluates a fixed rule set. It is immutable and safe for concurrent use.
type Engine struct {
	rules []compiledRule
}

// NewEngine compiles rules. Any invalid rule fails the whole set.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		cr := compiledRule{rule: r, lower: strings.ToLower(r.Value)}
		if r.Kind == KindPattern {
			cr.re = regexp.MustCompile(r.Value)
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// ShouldCapture is false iff any rule matches the candidate.
func (e *Engine) ShouldCapture(c Candidate) bool {
	_, matched := e.Match(c)
	return !matched
}

// Match returns the first rule matching the candidate.
func (e *Engine) Match(c Candidate) (Rule, bool) {
	if e == nil {
		return Rule{}, false
	}

	var title, url string
	for _, cr := range e.rules {
		switch cr.rule.Kind {
		case KindApplication:
			if c.AppName == cr.rule.Value {
				return cr.rule, true
			}
		case KindWindowTitle:
			if title == "" {
				title = strings.ToLower(c.WindowTitle)
			}
			if strings.Contains(title, cr.lower) {
				return cr.rule, true
			}
		case KindURL:
			if c.URL == "" {
				continue
			}
			if url == "" {
				url = strings.ToLower(c.URL)
			}
			if strings.Contains(url, cr.lower) {
				return cr.rule, true
			}
		case KindPattern:
			if cr.re.MatchString(c.AppName) || cr.re.MatchString(c.WindowTitle) ||
				(c.URL != "" && cr.re.MatchString(c.URL)) {
				return cr.rule, true
			}
		}
	}
	return Rule{}, false
}

// Len returns the number of rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Registry holds the active Engine and swaps it whole when rules change,
// so evaluation never observes a partially updated rule set.
type Registry struct {
	cur atomic.Pointer[Engine]
}

// NewRegistry returns a registry with an empty rule set.
func NewRegistry() *Registry {
	r := &Registry{}
	r.cur.Store(&Engine{})
	return r
}

// Engine returns the current engine.
func (r *Registry) Engine() *Engine {
	return r.cur.Load()
}

// Replace compiles rules and publishes them. On error the current engine is kept.
func (r *Registry) Replace(rules []Rule) error {
	e, err := NewEngine(rules)
	if err != nil {
		return err
	}
	r.cur.Store(e)
	return nil
}
