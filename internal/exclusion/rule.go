package exclusion

import (
	"regexp"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/errors"
)

// Kind is what a rule matches against.
type Kind string

const (
	KindApplication Kind = "application"
	KindWindowTitle Kind = "windowTitle"
	KindURL         Kind = "url"
	KindPattern     Kind = "pattern"
)

// Kinds lists every rule kind in display order.
var Kinds = []Kind{KindApplication, KindWindowTitle, KindURL, KindPattern}

// Rule excludes matching windows from capture.
type Rule struct {
	ID          string    `json:"id" yaml:"id,omitempty"`
	Kind        Kind      `json:"type" yaml:"type"`
	Value       string    `json:"value" yaml:"value"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
}

// Valid reports whether k is a canonical kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind accepts the canonical kind names plus a few spellings used by CLIs.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "application", "app":
		return KindApplication, nil
	case "windowtitle", "window_title", "window-title", "title":
		return KindWindowTitle, nil
	case "url":
		return KindURL, nil
	case "pattern", "regex":
		return KindPattern, nil
	}
	return "", errors.NewConfiguration("type", "must be one of application, windowTitle, url, pattern")
}

// NewRule validates the inputs and returns a rule with a fresh ID.
// Pattern rules must compile; an invalid regex is a CONFIGURATION_ERROR.
func NewRule(kind Kind, value, description string, now time.Time) (*Rule, error) {
	r := &Rule{
		Kind:        kind,
		Value:       strings.TrimSpace(value),
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.ID = entry.NewID(now)
	return r, nil
}

// Validate checks the kind and value. It does not require an ID.
func (r *Rule) Validate() error {
	if !r.Kind.Valid() {
		return errors.NewConfiguration("type", "must be one of application, windowTitle, url, pattern")
	}
	if strings.TrimSpace(r.Value) == "" {
		return errors.NewConfiguration("value", "must not be empty")
	}
	if r.Kind == KindPattern {
		if _, err := regexp.Compile(r.Value); err != nil {
			return errors.NewConfiguration("value", "invalid pattern: "+err.Error())
		}
	}
	return nil
}
