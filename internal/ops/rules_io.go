package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/exclusion"
)

// RulesFormatVersion is written as eidon_rules in exported files.
const RulesFormatVersion = 1

// maxRulesFileBytes bounds the size of an imported rules file.
const maxRulesFileBytes = 1 << 20

// Import modes.
const (
	ImportModeError   = "error"   // fail on the first duplicate (default)
	ImportModeMerge   = "merge"   // skip rules that already exist
	ImportModeReplace = "replace" // drop every existing rule first
)

// RulesFile is the on-disk rules document.
type RulesFile struct {
	Version    int              `yaml:"eidon_rules"`
	ExportedAt string           `yaml:"exported_at,omitempty"`
	Rules      []exclusion.Rule `yaml:"rules"`
}

// ExportRulesInput contains parameters for the ExportRules operation.
type ExportRulesInput struct {
	Path string // optional, default: <base>/exports/rules-<timestamp>.yaml
}

// ExportRulesOutput contains the result of the ExportRules operation.
type ExportRulesOutput struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// ImportRulesInput contains parameters for the ImportRules operation.
type ImportRulesInput struct {
	Path string
	Mode string // error (default), merge, replace
}

// ImportRulesOutput contains the result of the ImportRules operation.
type ImportRulesOutput struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Removed  int `json:"removed"`
}

// ExportRules writes the rule set as YAML. The file is written to a temp name
// and renamed into place so a failed export keeps any previous file.
func ExportRules(ctx context.Context, svc *Services, input ExportRulesInput) (*ExportRulesOutput, error) {
	now := time.Now()
	path := input.Path
	if path == "" {
		path = filepath.Join(ExportsDir(svc.BaseDir), "rules-"+now.Format("2006-01-02T150405")+".yaml")
	}
	if err := ValidatePath(path, PathCheckWrite, svc.Config.Current(), svc.BaseDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	rules, err := db.ListRules(ctx, svc.DB)
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(RulesFile{
		Version:    RulesFormatVersion,
		ExportedAt: now.UTC().Format(time.RFC3339),
		Rules:      rules,
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := writeFileAtomic(path, out); err != nil {
		return nil, err
	}
	return &ExportRulesOutput{Path: path, Count: len(rules)}, nil
}

func writeFileAtomic(path string, data []byte) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("export path must not be a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true
	return nil
}

// ImportRules loads rules from a YAML file. Every rule is validated before
// anything is written and the whole import runs in one transaction.
func ImportRules(ctx context.Context, svc *Services, input ImportRulesInput) (*ImportRulesOutput, error) {
	mode := strings.ToLower(strings.TrimSpace(input.Mode))
	if mode == "" {
		mode = ImportModeError
	}
	switch mode {
	case ImportModeError, ImportModeMerge, ImportModeReplace:
	default:
		return nil, errors.NewInvalidRequest("mode must be one of error, merge, replace")
	}

	if err := ValidatePath(input.Path, PathCheckRead, svc.Config.Current(), svc.BaseDir); err != nil {
		return nil, err
	}
	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxRulesFileBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if len(data) > maxRulesFileBytes {
		return nil, errors.NewInvalidRequest("rules file is too large")
	}

	rules, err := parseRulesFile(data)
	if err != nil {
		return nil, err
	}

	out := &ImportRulesOutput{}
	err = db.WithTx(ctx, svc.DB, func(tx *sql.Tx) error {
		if mode == ImportModeReplace {
			existing, err := db.ListRules(ctx, tx)
			if err != nil {
				return err
			}
			for _, r := range existing {
				if err := db.DeleteRule(ctx, tx, r.ID); err != nil {
					return err
				}
			}
			out.Removed = len(existing)
		}
		for _, r := range rules {
			err := db.InsertRule(ctx, tx, r)
			if mode == ImportModeMerge && errors.Is(err, errors.ErrConflict) {
				out.Skipped++
				continue
			}
			if err != nil {
				return err
			}
			out.Imported++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := svc.reloadRules(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// parseRulesFile decodes and validates a rules document. IDs in the file are
// ignored; imported rules get fresh ones.
func parseRulesFile(data []byte) ([]*exclusion.Rule, error) {
	var doc RulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid rules file: %v", err))
	}
	if doc.Version != RulesFormatVersion {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported rules file version %d", doc.Version))
	}

	now := time.Now()
	out := make([]*exclusion.Rule, 0, len(doc.Rules))
	for i, r := range doc.Rules {
		kind, err := exclusion.ParseKind(string(r.Kind))
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("rule %d: %v", i+1, err))
		}
		rule, err := exclusion.NewRule(kind, r.Value, r.Description, now)
		if err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("rule %d: %v", i+1, err))
		}
		out = append(out, rule)
	}
	return out, nil
}
