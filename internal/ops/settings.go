package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/errors"
)

// SettingsOutput is the active configuration and its version.
type SettingsOutput struct {
	Version  uint64         `json:"version"`
	Settings *config.Config `json:"settings"`
}

// UpdateSettingsInput carries a partial settings document. Only the keys
// present are changed, e.g. {"capture": {"interval_seconds": 10}}.
type UpdateSettingsInput struct {
	Patch json.RawMessage
}

// GetSettings returns the active settings.
func GetSettings(ctx context.Context, svc *Services) (*SettingsOutput, error) {
	snap := svc.Config.Snapshot()
	return &SettingsOutput{Version: snap.Version, Settings: snap.Config}, nil
}

// UpdateSettings merges the patch onto a copy of the current settings,
// validates and persists it, then publishes it as the next version.
// Invalid values are rejected with CONFIGURATION_ERROR and nothing changes.
func UpdateSettings(ctx context.Context, svc *Services, input UpdateSettingsInput) (*SettingsOutput, error) {
	patch := bytes.TrimSpace(input.Patch)
	if len(patch) == 0 || patch[0] != '{' {
		return nil, errors.NewInvalidRequest("settings patch must be a JSON object")
	}

	snap, err := svc.Config.Update(func(c *config.Config) error {
		dec := json.NewDecoder(bytes.NewReader(patch))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return errors.NewInvalidRequest(fmt.Sprintf("invalid settings: %v", err))
		}
		return nil
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}

	svc.bumpRevision(ctx)
	if svc.OnSettingsChanged != nil {
		svc.OnSettingsChanged(snap)
	}
	return &SettingsOutput{Version: snap.Version, Settings: snap.Config}, nil
}
