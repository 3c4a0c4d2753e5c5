package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/exclusion"
	"github.com/hpungsan/eidon/internal/ops"
	"github.com/hpungsan/eidon/internal/scheduler"
	"github.com/hpungsan/eidon/internal/search"
	"github.com/hpungsan/eidon/internal/storage"
)

type fakeCapture struct {
	status scheduler.Status
}

func (f *fakeCapture) Status(ctx context.Context) (scheduler.Status, error) {
	return f.status, nil
}

func (f *fakeCapture) SetActive(ctx context.Context, active bool) (scheduler.Status, error) {
	if active {
		f.status.State = scheduler.StateActive
	} else {
		f.status.State = scheduler.StatePaused
	}
	return f.status, nil
}

func (f *fakeCapture) CaptureNow(ctx context.Context) (scheduler.Result, error) {
	f.status.CaptureCount++
	return scheduler.Result{Outcome: scheduler.OutcomeKept, EntryID: "01MANUAL"}, nil
}

// setupTestServices creates a temporary database and services for testing.
func setupTestServices(t *testing.T) *ops.Services {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.AllowUnsafePaths = true
	cfg.Embedding.Provider = config.ProviderNone
	holder := config.NewHolder(filepath.Join(tmpDir, "config.json"), cfg)

	return &ops.Services{
		DB:      database,
		BaseDir: tmpDir,
		Config:  holder,
		Rules:   exclusion.NewRegistry(),
		Storage: storage.NewManager(database, tmpDir, holder, nil),
		Index:   search.NewIndex(database, holder, nil, nil),
		Capture: &fakeCapture{status: scheduler.Status{State: scheduler.StatePaused, Backend: "fake"}},
	}
}

func seedEntry(t *testing.T, svc *ops.Services, at time.Time, app, text string) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	e := &entry.Entry{Timestamp: at, AppName: app, WindowTitle: app + " window", ExtractedText: text}
	id, err := svc.Storage.Put(context.Background(), e, buf.Bytes())
	if err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return id
}

// runCLI runs args against a fresh app and returns what was written to stdout.
func runCLI(t *testing.T, svc *ops.Services, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(nil, svc)

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w
	app.Writer = w

	if stdin != "" {
		oldStdin := os.Stdin
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		os.Stdin = stdinR
		defer func() { os.Stdin = oldStdin }()
		go func() {
			_, _ = stdinW.WriteString(stdin)
			stdinW.Close()
		}()
	}

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	runErr := app.Run(append([]string{"eidon"}, args...))

	w.Close()
	os.Stdout = oldStdout
	return string(<-done), runErr
}

func decodeOutput(t *testing.T, out string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
}

// TestParseList tests the parseList helper function.
func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single value", input: "Safari", expected: []string{"Safari"}},
		{name: "multiple values", input: "Safari,Terminal", expected: []string{"Safari", "Terminal"}},
		{name: "values with spaces", input: " Safari , Visual Studio Code ", expected: []string{"Safari", "Visual Studio Code"}},
		{name: "empty values filtered", input: "Safari,,Terminal,", expected: []string{"Safari", "Terminal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseList(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d values, got %d", len(tt.expected), len(result))
			}
			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("expected value[%d]=%q, got %q", i, tt.expected[i], v)
				}
			}
		})
	}
}

// TestCLICaptureControl tests status, pause, resume and capture.
func TestCLICaptureControl(t *testing.T) {
	svc := setupTestServices(t)

	out, err := runCLI(t, svc, "", "status")
	if err != nil {
		t.Fatalf("status command failed: %v", err)
	}
	var status scheduler.Status
	decodeOutput(t, out, &status)
	if status.State != scheduler.StatePaused {
		t.Errorf("expected paused, got %s", status.State)
	}

	out, err = runCLI(t, svc, "", "resume")
	if err != nil {
		t.Fatalf("resume command failed: %v", err)
	}
	decodeOutput(t, out, &status)
	if status.State != scheduler.StateActive {
		t.Errorf("expected active after resume, got %s", status.State)
	}

	out, err = runCLI(t, svc, "", "pause")
	if err != nil {
		t.Fatalf("pause command failed: %v", err)
	}
	decodeOutput(t, out, &status)
	if status.State != scheduler.StatePaused {
		t.Errorf("expected paused after pause, got %s", status.State)
	}

	out, err = runCLI(t, svc, "", "capture")
	if err != nil {
		t.Fatalf("capture command failed: %v", err)
	}
	var captured ops.CaptureNowOutput
	decodeOutput(t, out, &captured)
	if captured.EntryID != "01MANUAL" {
		t.Errorf("expected entry_id=01MANUAL, got %q", captured.EntryID)
	}
	if captured.Status.CaptureCount != 1 {
		t.Errorf("expected capture_count=1, got %d", captured.Status.CaptureCount)
	}
}

// TestCLINoDaemon tests that capture control fails cleanly without a daemon.
func TestCLINoDaemon(t *testing.T) {
	svc := setupTestServices(t)
	svc.Capture = nil

	if _, err := runCLI(t, svc, "", "status"); err == nil {
		t.Fatal("expected error, got nil")
	} else if !strings.Contains(err.Error(), "[CAPTURE_FAILED]") {
		t.Errorf("expected CAPTURE_FAILED, got %v", err)
	}
}

// TestCLITimeline tests the timeline command.
func TestCLITimeline(t *testing.T) {
	svc := setupTestServices(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)
	seedEntry(t, svc, day.Add(9*time.Hour+5*time.Minute), "Safari", "reading docs")
	seedEntry(t, svc, day.Add(9*time.Hour+40*time.Minute), "Terminal", "go test ./...")
	seedEntry(t, svc, day.Add(14*time.Hour), "Safari", "afternoon")

	t.Run("day", func(t *testing.T) {
		out, err := runCLI(t, svc, "", "timeline", "--date=2026-03-14")
		if err != nil {
			t.Fatalf("timeline command failed: %v", err)
		}
		var output ops.TimelineOutput
		decodeOutput(t, out, &output)
		if output.Captures != 3 {
			t.Errorf("expected 3 captures, got %d", output.Captures)
		}
		if output.Granularity != ops.GranularityDay {
			t.Errorf("expected granularity=day, got %s", output.Granularity)
		}
	})

	t.Run("hour with app filter", func(t *testing.T) {
		out, err := runCLI(t, svc, "", "timeline", "--date=2026-03-14", "--granularity=hour", "--hour=9", "--app=Safari")
		if err != nil {
			t.Fatalf("timeline command failed: %v", err)
		}
		var output ops.TimelineOutput
		decodeOutput(t, out, &output)
		if output.Captures != 1 {
			t.Errorf("expected 1 capture, got %d", output.Captures)
		}
	})

	t.Run("bad date", func(t *testing.T) {
		_, err := runCLI(t, svc, "", "timeline", "--date=14/03/2026")
		if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
			t.Errorf("expected INVALID_REQUEST, got %v", err)
		}
	})
}

// TestCLISearch tests the search command.
func TestCLISearch(t *testing.T) {
	svc := setupTestServices(t)
	now := time.Now()
	seedEntry(t, svc, now.Add(-time.Hour), "Safari", "quarterly budget review")
	seedEntry(t, svc, now.Add(-30*time.Minute), "Terminal", "make build")

	out, err := runCLI(t, svc, "", "search", "--method=keyword", "budget")
	if err != nil {
		t.Fatalf("search command failed: %v", err)
	}
	var output ops.SearchOutput
	decodeOutput(t, out, &output)
	if len(output.Items) != 1 {
		t.Fatalf("expected 1 result, got %d", len(output.Items))
	}
	if output.Items[0].AppName != "Safari" {
		t.Errorf("expected app_name=Safari, got %q", output.Items[0].AppName)
	}

	if _, err := runCLI(t, svc, "", "search"); err == nil {
		t.Error("expected error for missing query, got nil")
	}
}

// TestCLIEntry tests entry show and delete.
func TestCLIEntry(t *testing.T) {
	svc := setupTestServices(t)
	id := seedEntry(t, svc, time.Now().Add(-time.Minute), "Notes", "shopping list")

	out, err := runCLI(t, svc, "", "entry", "show", id)
	if err != nil {
		t.Fatalf("entry show failed: %v", err)
	}
	var shown ops.EntryOutput
	decodeOutput(t, out, &shown)
	if shown.ExtractedText != "shopping list" {
		t.Errorf("expected extracted_text=shopping list, got %q", shown.ExtractedText)
	}

	if _, err := runCLI(t, svc, "", "entry", "delete", id); err != nil {
		t.Fatalf("entry delete failed: %v", err)
	}

	_, err = runCLI(t, svc, "", "entry", "show", id)
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("expected NOT_FOUND after delete, got %v", err)
	}
}

// TestCLIRules tests the rules command group.
func TestCLIRules(t *testing.T) {
	svc := setupTestServices(t)

	out, err := runCLI(t, svc, "", "rules", "add", "--type=application", "--description=passwords", "1Password")
	if err != nil {
		t.Fatalf("rules add failed: %v", err)
	}
	var rule exclusion.Rule
	decodeOutput(t, out, &rule)
	if rule.ID == "" || rule.Value != "1Password" {
		t.Errorf("unexpected rule: %+v", rule)
	}

	_, err = runCLI(t, svc, "", "rules", "add", "--type=application", "1Password")
	if err == nil || !strings.Contains(err.Error(), "[CONFLICT]") {
		t.Errorf("expected CONFLICT for duplicate, got %v", err)
	}

	exportPath := filepath.Join(svc.BaseDir, "rules.yaml")
	if _, err := runCLI(t, svc, "", "rules", "export", "--path="+exportPath); err != nil {
		t.Fatalf("rules export failed: %v", err)
	}
	if _, err := os.Stat(exportPath); err != nil {
		t.Fatalf("export file missing: %v", err)
	}

	if _, err := runCLI(t, svc, "", "rules", "delete", rule.ID); err != nil {
		t.Fatalf("rules delete failed: %v", err)
	}

	out, err = runCLI(t, svc, "", "rules", "import", "--path="+exportPath, "--mode=merge")
	if err != nil {
		t.Fatalf("rules import failed: %v", err)
	}
	var imported ops.ImportRulesOutput
	decodeOutput(t, out, &imported)
	if imported.Imported != 1 {
		t.Errorf("expected imported=1, got %d", imported.Imported)
	}

	out, err = runCLI(t, svc, "", "rules", "list")
	if err != nil {
		t.Fatalf("rules list failed: %v", err)
	}
	var listed ops.ListRulesOutput
	decodeOutput(t, out, &listed)
	if len(listed.Rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(listed.Rules))
	}
}

// TestCLIStorage tests stats, cleanup and archives.
func TestCLIStorage(t *testing.T) {
	svc := setupTestServices(t)
	seedEntry(t, svc, time.Now().Add(-time.Minute), "Safari", "fresh")

	out, err := runCLI(t, svc, "", "stats")
	if err != nil {
		t.Fatalf("stats command failed: %v", err)
	}
	var stats ops.StorageStatsOutput
	decodeOutput(t, out, &stats)
	if stats.CaptureCount != 1 {
		t.Errorf("expected capture_count=1, got %d", stats.CaptureCount)
	}

	out, err = runCLI(t, svc, "", "stats", "--human")
	if err != nil {
		t.Fatalf("stats --human failed: %v", err)
	}
	if !strings.Contains(out, "1 captures") {
		t.Errorf("expected human summary, got %q", out)
	}

	if _, err := runCLI(t, svc, "", "cleanup"); err != nil {
		t.Fatalf("cleanup command failed: %v", err)
	}

	out, err = runCLI(t, svc, "", "archives", "list")
	if err != nil {
		t.Fatalf("archives list failed: %v", err)
	}
	var archives ops.ListArchivesOutput
	decodeOutput(t, out, &archives)
	if archives.Total != 0 {
		t.Errorf("expected no archives, got %d", archives.Total)
	}

	_, err = runCLI(t, svc, "", "archives", "delete", "01NOPE")
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

// TestCLISettings tests settings get and set.
func TestCLISettings(t *testing.T) {
	svc := setupTestServices(t)

	t.Run("set from argument", func(t *testing.T) {
		out, err := runCLI(t, svc, "", "settings", "set", `{"capture":{"interval_seconds":45}}`)
		if err != nil {
			t.Fatalf("settings set failed: %v", err)
		}
		var output ops.SettingsOutput
		decodeOutput(t, out, &output)
		if output.Settings.Capture.IntervalSeconds != 45 {
			t.Errorf("expected interval_seconds=45, got %d", output.Settings.Capture.IntervalSeconds)
		}
	})

	t.Run("set from stdin", func(t *testing.T) {
		if _, err := runCLI(t, svc, `{"capture":{"interval_seconds":50}}`, "settings", "set"); err != nil {
			t.Fatalf("settings set failed: %v", err)
		}
		out, err := runCLI(t, svc, "", "settings", "get")
		if err != nil {
			t.Fatalf("settings get failed: %v", err)
		}
		var output ops.SettingsOutput
		decodeOutput(t, out, &output)
		if output.Settings.Capture.IntervalSeconds != 50 {
			t.Errorf("expected interval_seconds=50, got %d", output.Settings.Capture.IntervalSeconds)
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		if _, err := runCLI(t, svc, "", "settings", "set", `{"nope":1}`); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"eidon"}, expected: false},
		{name: "daemon command", args: []string{"eidon", "daemon"}, expected: true},
		{name: "search command", args: []string{"eidon", "search"}, expected: true},
		{name: "help flag", args: []string{"eidon", "--help"}, expected: true},
		{name: "version flag", args: []string{"eidon", "--version"}, expected: true},
		{name: "short help flag", args: []string{"eidon", "-h"}, expected: true},
		{name: "short version flag", args: []string{"eidon", "-v"}, expected: true},
		{name: "unknown arg defaults to MCP", args: []string{"eidon", "--unknown"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"eidon"}, expected: false},
		{name: "help flag", args: []string{"eidon", "--help"}, expected: true},
		{name: "short help flag", args: []string{"eidon", "-h"}, expected: true},
		{name: "version flag", args: []string{"eidon", "--version"}, expected: true},
		{name: "short version flag", args: []string{"eidon", "-v"}, expected: true},
		{name: "help subcommand", args: []string{"eidon", "help"}, expected: true},
		{name: "status command is not help", args: []string{"eidon", "status"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestReadStdinWithLimit tests the readStdin function respects size limits.
func TestReadStdinWithLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		content := "small content"
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		result, err := readStdin(1000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != content {
			t.Errorf("expected %q, got %q", content, result)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		content := strings.Repeat("x", 100)
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()

		oldStdin := os.Stdin
		os.Stdin = r
		defer func() { os.Stdin = oldStdin }()

		if _, err = readStdin(50); err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}
