package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/eidon/internal/errors"
)

func TestExportImportRules_RoundTrip(t *testing.T) {
	src := newServices(t, nil)
	ctx := context.Background()

	_, err := AddRule(ctx, src, AddRuleInput{Type: "application", Value: "Terminal"})
	require.NoError(t, err)
	_, err = AddRule(ctx, src, AddRuleInput{Type: "pattern", Value: `^https://mail\.`, Description: "webmail"})
	require.NoError(t, err)

	exp, err := ExportRules(ctx, src, ExportRulesInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, exp.Count)
	assert.Equal(t, ExportsDir(src.BaseDir), filepath.Dir(exp.Path))

	data, err := os.ReadFile(exp.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "eidon_rules: 1")

	dst := newServices(t, nil)
	target := filepath.Join(ExportsDir(dst.BaseDir), "rules.yaml")
	require.NoError(t, os.WriteFile(target, data, 0600))

	imp, err := ImportRules(ctx, dst, ImportRulesInput{Path: target})
	require.NoError(t, err)
	assert.Equal(t, 2, imp.Imported)

	list, err := ListRules(ctx, dst)
	require.NoError(t, err)
	require.Len(t, list.Rules, 2)
	assert.Equal(t, "webmail", list.Rules[1].Description)
}

func writeRulesFile(t *testing.T, svc *Services, body string) string {
	t.Helper()
	path := filepath.Join(ExportsDir(svc.BaseDir), "in.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

const twoRules = `eidon_rules: 1
rules:
  - type: application
    value: Terminal
  - type: url
    value: bank
`

func TestImportRules_Modes(t *testing.T) {
	ctx := context.Background()

	t.Run("error", func(t *testing.T) {
		svc := newServices(t, nil)
		_, err := AddRule(ctx, svc, AddRuleInput{Type: "url", Value: "bank"})
		require.NoError(t, err)

		_, err = ImportRules(ctx, svc, ImportRulesInput{Path: writeRulesFile(t, svc, twoRules)})
		assert.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

		list, _ := ListRules(ctx, svc)
		assert.Len(t, list.Rules, 1, "failed import writes nothing")
	})

	t.Run("merge", func(t *testing.T) {
		svc := newServices(t, nil)
		_, err := AddRule(ctx, svc, AddRuleInput{Type: "url", Value: "bank"})
		require.NoError(t, err)

		out, err := ImportRules(ctx, svc, ImportRulesInput{Path: writeRulesFile(t, svc, twoRules), Mode: "merge"})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Imported)
		assert.Equal(t, 1, out.Skipped)
	})

	t.Run("replace", func(t *testing.T) {
		svc := newServices(t, nil)
		_, err := AddRule(ctx, svc, AddRuleInput{Type: "windowTitle", Value: "Private"})
		require.NoError(t, err)

		out, err := ImportRules(ctx, svc, ImportRulesInput{Path: writeRulesFile(t, svc, twoRules), Mode: "replace"})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Removed)
		assert.Equal(t, 2, out.Imported)

		list, _ := ListRules(ctx, svc)
		assert.Len(t, list.Rules, 2)
	})
}

func TestImportRules_Invalid(t *testing.T) {
	svc := newServices(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "rules: [\n"},
		{"wrong version", "eidon_rules: 7\nrules: []\n"},
		{"bad pattern", "eidon_rules: 1\nrules:\n  - type: pattern\n    value: '(x'\n"},
		{"bad kind", "eidon_rules: 1\nrules:\n  - type: colour\n    value: red\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ImportRules(ctx, svc, ImportRulesInput{Path: writeRulesFile(t, svc, tc.body)})
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}

	_, err := ImportRules(ctx, svc, ImportRulesInput{Path: writeRulesFile(t, svc, twoRules), Mode: "append"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}
