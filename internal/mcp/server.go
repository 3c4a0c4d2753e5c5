package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/eidon/internal/ops"
)

// KnownTypes lists all valid tool groups.
var KnownTypes = []string{"capture", "timeline", "search", "settings", "rule", "storage", "archive", "entry"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capture_status": {
		def:     captureStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureStatus },
	},
	"capture_toggle": {
		def:     captureToggleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureToggle },
	},
	"capture_manual": {
		def:     captureManualToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureManual },
	},
	"timeline_fetch": {
		def:     timelineFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTimelineFetch },
	},
	"search_query": {
		def:     searchQueryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearchQuery },
	},
	"settings_get": {
		def:     settingsGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsGet },
	},
	"settings_update": {
		def:     settingsUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSettingsUpdate },
	},
	"rule_list": {
		def:     ruleListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRuleList },
	},
	"rule_add": {
		def:     ruleAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRuleAdd },
	},
	"rule_delete": {
		def:     ruleDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRuleDelete },
	},
	"rule_export": {
		def:     ruleExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRuleExport },
	},
	"rule_import": {
		def:     ruleImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRuleImport },
	},
	"storage_stats": {
		def:     storageStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStorageStats },
	},
	"storage_cleanup": {
		def:     storageCleanupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStorageCleanup },
	},
	"archive_list": {
		def:     archiveListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArchiveList },
	},
	"archive_compress": {
		def:     archiveCompressToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArchiveCompress },
	},
	"archive_delete": {
		def:     archiveDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArchiveDelete },
	},
	"entry_fetch": {
		def:     entryFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEntryFetch },
	},
	"entry_delete": {
		def:     entryDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleEntryDelete },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "rule_add" → "rule").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with Eidon tools registered.
// Tools listed in disabled_tools or belonging to disabled_types are
// excluded from registration.
func NewServer(svc *ops.Services, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"eidon",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(svc)
	cfg := svc.Config.Current()

	// Build set of disabled tools: first expand types, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves the MCP protocol over stdio until stdin closes.
func Run(svc *ops.Services, version string) error {
	return server.ServeStdio(NewServer(svc, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
