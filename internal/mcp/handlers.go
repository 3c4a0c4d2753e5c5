package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *ops.Services
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Services) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// ToggleRequest represents the arguments for capture_toggle.
type ToggleRequest struct {
	Active *bool `json:"active"`
}

// TimelineRequest represents the arguments for timeline_fetch.
type TimelineRequest struct {
	Date        string   `json:"date,omitempty"`
	Granularity string   `json:"granularity,omitempty"`
	Hour        *int     `json:"hour,omitempty"`
	Apps        []string `json:"apps,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// SearchRequest represents the arguments for search_query.
type SearchRequest struct {
	Query  string   `json:"query"`
	Method string   `json:"method,omitempty"`
	Sort   string   `json:"sort,omitempty"`
	From   string   `json:"from,omitempty"`
	To     string   `json:"to,omitempty"`
	Apps   []string `json:"apps,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// SettingsUpdateRequest represents the arguments for settings_update.
type SettingsUpdateRequest struct {
	Patch json.RawMessage `json:"patch"`
}

// RuleAddRequest represents the arguments for rule_add.
type RuleAddRequest struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// IDRequest represents the arguments for tools addressing one record.
type IDRequest struct {
	ID string `json:"id"`
}

// ExportRequest represents the arguments for rule_export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
}

// ImportRequest represents the arguments for rule_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// LimitRequest represents the arguments for archive_list.
type LimitRequest struct {
	Limit int `json:"limit,omitempty"`
}

// Handler implementations

// HandleCaptureStatus handles the capture_status tool call.
func (h *Handlers) HandleCaptureStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.CaptureStatus(ctx, h.svc)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCaptureToggle handles the capture_toggle tool call.
func (h *Handlers) HandleCaptureToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ToggleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ToggleCapture(ctx, h.svc, ops.ToggleCaptureInput{Active: input.Active})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCaptureManual handles the capture_manual tool call.
func (h *Handlers) HandleCaptureManual(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.CaptureNow(ctx, h.svc)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTimelineFetch handles the timeline_fetch tool call.
func (h *Handlers) HandleTimelineFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TimelineRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Timeline(ctx, h.svc, ops.TimelineInput{
		Date:        input.Date,
		Granularity: input.Granularity,
		Hour:        input.Hour,
		Apps:        input.Apps,
		Limit:       input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSearchQuery handles the search_query tool call.
func (h *Handlers) HandleSearchQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Search(ctx, h.svc, ops.SearchInput{
		Query:  input.Query,
		Method: input.Method,
		Sort:   input.Sort,
		From:   input.From,
		To:     input.To,
		Apps:   input.Apps,
		Limit:  input.Limit,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSettingsGet handles the settings_get tool call.
func (h *Handlers) HandleSettingsGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.GetSettings(ctx, h.svc)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSettingsUpdate handles the settings_update tool call.
func (h *Handlers) HandleSettingsUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SettingsUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if len(input.Patch) == 0 {
		return errorResult(errors.NewInvalidRequest("patch is required")), nil
	}

	result, err := ops.UpdateSettings(ctx, h.svc, ops.UpdateSettingsInput{Patch: input.Patch})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRuleList handles the rule_list tool call.
func (h *Handlers) HandleRuleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.ListRules(ctx, h.svc)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRuleAdd handles the rule_add tool call.
func (h *Handlers) HandleRuleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RuleAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.AddRule(ctx, h.svc, ops.AddRuleInput{
		Type:        input.Type,
		Value:       input.Value,
		Description: input.Description,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRuleDelete handles the rule_delete tool call.
func (h *Handlers) HandleRuleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteRule(ctx, h.svc, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRuleExport handles the rule_export tool call.
func (h *Handlers) HandleRuleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ExportRules(ctx, h.svc, ops.ExportRulesInput{Path: input.Path})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRuleImport handles the rule_import tool call.
func (h *Handlers) HandleRuleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ImportRules(ctx, h.svc, ops.ImportRulesInput{Path: input.Path, Mode: input.Mode})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStorageStats handles the storage_stats tool call.
func (h *Handlers) HandleStorageStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.StorageStats(ctx, h.svc)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleStorageCleanup handles the storage_cleanup tool call.
func (h *Handlers) HandleStorageCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.RunCleanup(ctx, h.svc)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArchiveList handles the archive_list tool call.
func (h *Handlers) HandleArchiveList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LimitRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListArchives(ctx, h.svc, ops.ListArchivesInput{Limit: input.Limit})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArchiveCompress handles the archive_compress tool call.
func (h *Handlers) HandleArchiveCompress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CompressArchive(ctx, h.svc, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArchiveDelete handles the archive_delete tool call.
func (h *Handlers) HandleArchiveDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteArchive(ctx, h.svc, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleEntryFetch handles the entry_fetch tool call.
func (h *Handlers) HandleEntryFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetEntry(ctx, h.svc, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleEntryDelete handles the entry_delete tool call.
func (h *Handlers) HandleEntryDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteEntry(ctx, h.svc, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if eErr, ok := errors.As(err); ok && eErr.Code != errors.ErrInternal {
		// Keep wrapper context such as "rule 3: ..." when present.
		msg := eErr.Message
		if error(eErr) != err {
			msg = err.Error()
		}
		errorObj := map[string]any{
			"code":    eErr.Code,
			"message": msg,
			"status":  eErr.Status,
		}
		if eErr.Details != nil {
			errorObj["details"] = eErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
