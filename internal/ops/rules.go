package ops

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/exclusion"
)

// AddRuleInput contains parameters for the AddRule operation.
type AddRuleInput struct {
	Type        string // required: application, windowTitle, url, pattern
	Value       string // required; a regular expression for pattern rules
	Description string
}

// ListRulesOutput contains the rule set.
type ListRulesOutput struct {
	Rules []exclusion.Rule `json:"rules"`
}

// DeleteRuleOutput contains the result of the DeleteRule operation.
type DeleteRuleOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// ListRules returns every exclusion rule in creation order.
func ListRules(ctx context.Context, svc *Services) (*ListRulesOutput, error) {
	rules, err := db.ListRules(ctx, svc.DB)
	if err != nil {
		return nil, err
	}
	return &ListRulesOutput{Rules: rules}, nil
}

// AddRule validates and stores a rule, then activates it. Pattern rules with
// an invalid regular expression are rejected with CONFIGURATION_ERROR.
func AddRule(ctx context.Context, svc *Services, input AddRuleInput) (*exclusion.Rule, error) {
	kind, err := exclusion.ParseKind(input.Type)
	if err != nil {
		return nil, err
	}
	rule, err := exclusion.NewRule(kind, input.Value, input.Description, time.Now())
	if err != nil {
		return nil, err
	}
	if err := db.InsertRule(ctx, svc.DB, rule); err != nil {
		return nil, err
	}
	if err := svc.reloadRules(ctx); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule and deactivates it.
func DeleteRule(ctx context.Context, svc *Services, id string) (*DeleteRuleOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if err := db.DeleteRule(ctx, svc.DB, id); err != nil {
		return nil, err
	}
	if err := svc.reloadRules(ctx); err != nil {
		return nil, err
	}
	return &DeleteRuleOutput{Deleted: true, ID: id}, nil
}

// reloadRules publishes the stored rules to the in-process registry and
// tells other processes they changed.
func (s *Services) reloadRules(ctx context.Context) error {
	s.bumpRevision(ctx)
	if s.Rules == nil {
		return nil
	}
	return LoadRules(ctx, s.DB, s.Rules)
}

// LoadRules replaces the registry's rules with the stored rule set.
func LoadRules(ctx context.Context, q db.Querier, reg *exclusion.Registry) error {
	rules, err := db.ListRules(ctx, q)
	if err != nil {
		return err
	}
	return reg.Replace(rules)
}

// SeedDefaultRules installs the built-in rules once. Later deletions stick
// because the seeding is recorded in the meta table.
func SeedDefaultRules(ctx context.Context, database *sql.DB, now time.Time) (int, error) {
	added := 0
	err := db.WithTx(ctx, database, func(tx *sql.Tx) error {
		_, seeded, err := db.GetMeta(ctx, tx, db.MetaDefaultRulesSeeded)
		if err != nil || seeded {
			return err
		}
		for _, d := range exclusion.DefaultRules() {
			r, err := exclusion.NewRule(d.Kind, d.Value, d.Description, now)
			if err != nil {
				return err
			}
			err = db.InsertRule(ctx, tx, r)
			if errors.Is(err, errors.ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
			added++
		}
		return db.SetMeta(ctx, tx, db.MetaDefaultRulesSeeded, now.UTC().Format(time.RFC3339))
	})
	return added, err
}
