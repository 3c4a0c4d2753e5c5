package mcp

import "github.com/mark3labs/mcp-go/mcp"

var captureStatusToolDef = mcp.NewTool("capture_status",
	mcp.WithDescription("Report the capture scheduler state (active, paused, idle, error), the last capture time and the capture count. Requires a running `eidon daemon`."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var captureToggleToolDef = mcp.NewTool("capture_toggle",
	mcp.WithDescription("Pause or resume screen capture. `active` is the target state, so repeating the same request is a no-op."),
	mcp.WithBoolean("active", mcp.Required(), mcp.Description("true to resume, false to pause")),
	mcp.WithIdempotentHintAnnotation(true),
)

var captureManualToolDef = mcp.NewTool("capture_manual",
	mcp.WithDescription("Take one capture now. The frame still passes exclusion rules and the similarity filter; the outcome says whether it was kept."),
)

var timelineFetchToolDef = mcp.NewTool("timeline_fetch",
	mcp.WithDescription("Captures for one day grouped into hourly buckets (granularity=day) or one hour grouped into 15-minute buckets (granularity=hour). Consecutive captures of the same window are merged into one entry."),
	mcp.WithString("date", mcp.Description("YYYY-MM-DD in local time; default today")),
	mcp.WithString("granularity", mcp.Enum("day", "hour"), mcp.Description("default day")),
	mcp.WithNumber("hour", mcp.Description("hour of day (0-23) for granularity=hour; default current hour")),
	mcp.WithArray("apps", mcp.WithStringItems(), mcp.Description("only these application names")),
	mcp.WithNumber("limit", mcp.Description("maximum captures read (default 2000)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var searchQueryToolDef = mcp.NewTool("search_query",
	mcp.WithDescription("Search captured screen text. keyword uses the full-text index; semantic uses embeddings; hybrid blends both and falls back to keyword when no embedder is configured."),
	mcp.WithString("query", mcp.Required(), mcp.Description("text to search for")),
	mcp.WithString("method", mcp.Enum("keyword", "semantic", "hybrid"), mcp.Description("default from settings")),
	mcp.WithString("sort", mcp.Enum("relevance", "newest", "oldest"), mcp.Description("default relevance")),
	mcp.WithString("from", mcp.Description("YYYY-MM-DD inclusive")),
	mcp.WithString("to", mcp.Description("YYYY-MM-DD inclusive")),
	mcp.WithArray("apps", mcp.WithStringItems(), mcp.Description("only these application names")),
	mcp.WithNumber("limit", mcp.Description("maximum results (default search.max_results)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var settingsGetToolDef = mcp.NewTool("settings_get",
	mcp.WithDescription("Return the current settings document and its version."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var settingsUpdateToolDef = mcp.NewTool("settings_update",
	mcp.WithDescription("Apply a partial settings document, e.g. {\"capture\": {\"interval_seconds\": 10}}. The whole result is validated; on error nothing changes."),
	mcp.WithObject("patch", mcp.Required(), mcp.Description("settings fields to change")),
)

var ruleListToolDef = mcp.NewTool("rule_list",
	mcp.WithDescription("List exclusion rules. Frames matching any rule are never stored."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var ruleAddToolDef = mcp.NewTool("rule_add",
	mcp.WithDescription("Add an exclusion rule. application matches the app name exactly; windowTitle and url match case-insensitive substrings; pattern is a regular expression tried against title and url."),
	mcp.WithString("type", mcp.Required(), mcp.Enum("application", "windowTitle", "url", "pattern")),
	mcp.WithString("value", mcp.Required()),
	mcp.WithString("description"),
)

var ruleDeleteToolDef = mcp.NewTool("rule_delete",
	mcp.WithDescription("Delete an exclusion rule by id."),
	mcp.WithString("id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var ruleExportToolDef = mcp.NewTool("rule_export",
	mcp.WithDescription("Write all exclusion rules to a YAML file. Default path: <base dir>/exports/rules-<timestamp>.yaml."),
	mcp.WithString("path", mcp.Description("destination .yaml file inside an allowed directory")),
)

var ruleImportToolDef = mcp.NewTool("rule_import",
	mcp.WithDescription("Import exclusion rules from a YAML file written by rule_export. mode=error rejects duplicates, merge skips them, replace drops existing rules first."),
	mcp.WithString("path", mcp.Required()),
	mcp.WithString("mode", mcp.Enum("error", "merge", "replace"), mcp.Description("default error")),
)

var storageStatsToolDef = mcp.NewTool("storage_stats",
	mcp.WithDescription("Space used by recent screenshots, archived screenshots and the database, against the configured limit."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var storageCleanupToolDef = mcp.NewTool("storage_cleanup",
	mcp.WithDescription("Run the retention and archival sweeps now."),
	mcp.WithDestructiveHintAnnotation(true),
)

var archiveListToolDef = mcp.NewTool("archive_list",
	mcp.WithDescription("List monthly archives of older screenshots, newest first."),
	mcp.WithNumber("limit", mcp.Description("default 100")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var archiveCompressToolDef = mcp.NewTool("archive_compress",
	mcp.WithDescription("Compress every screenshot of an archive. Safe to repeat."),
	mcp.WithString("id", mcp.Required()),
	mcp.WithIdempotentHintAnnotation(true),
)

var archiveDeleteToolDef = mcp.NewTool("archive_delete",
	mcp.WithDescription("Delete an archive together with all of its captures."),
	mcp.WithString("id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)

var entryFetchToolDef = mcp.NewTool("entry_fetch",
	mcp.WithDescription("Return one capture with its full extracted text and screenshot URL."),
	mcp.WithString("id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var entryDeleteToolDef = mcp.NewTool("entry_delete",
	mcp.WithDescription("Delete one capture and its screenshot."),
	mcp.WithString("id", mcp.Required()),
	mcp.WithDestructiveHintAnnotation(true),
)
