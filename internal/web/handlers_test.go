package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/eidon/internal/capture"
	"github.com/hpungsan/eidon/internal/config"
	"github.com/hpungsan/eidon/internal/db"
	"github.com/hpungsan/eidon/internal/entry"
	"github.com/hpungsan/eidon/internal/exclusion"
	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/ops"
	"github.com/hpungsan/eidon/internal/scheduler"
	"github.com/hpungsan/eidon/internal/search"
	"github.com/hpungsan/eidon/internal/storage"
)

// stubCapture is an in-memory capture controller.
type stubCapture struct {
	status scheduler.Status
}

func (s *stubCapture) Status(ctx context.Context) (scheduler.Status, error) {
	return s.status, nil
}

func (s *stubCapture) SetActive(ctx context.Context, active bool) (scheduler.Status, error) {
	if active {
		s.status.State = scheduler.StateActive
	} else {
		s.status.State = scheduler.StatePaused
	}
	return s.status, nil
}

func (s *stubCapture) CaptureNow(ctx context.Context) (scheduler.Result, error) {
	s.status.CaptureCount++
	return scheduler.Result{Outcome: scheduler.OutcomeKept, EntryID: "01MANUAL"}, nil
}

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Embedding.Provider = config.ProviderNone
	holder := config.NewHolder(filepath.Join(tmpDir, "config.json"), cfg)

	svc := &ops.Services{
		DB:      database,
		BaseDir: tmpDir,
		Config:  holder,
		Rules:   exclusion.NewRegistry(),
		Storage: storage.NewManager(database, tmpDir, holder, nil),
		Index:   search.NewIndex(database, holder, nil, nil),
		Capture: &stubCapture{status: scheduler.Status{State: scheduler.StatePaused, Backend: "stub"}},
	}

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	return &Handlers{
		svc:      svc,
		renderer: NewRenderer(templateSub, "test", nil),
		hub:      NewHub(nil),
		log:      logger.Discard(),
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 16)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// seedEntry stores a capture and returns its ID.
func seedEntry(t *testing.T, h *Handlers, at time.Time, app, title, text string) string {
	t.Helper()
	e := &entry.Entry{Timestamp: at, AppName: app, WindowTitle: title, ExtractedText: text}
	id, err := h.svc.Storage.Put(context.Background(), e, testPNG(t))
	if err != nil {
		t.Fatalf("seed entry %q: %v", title, err)
	}
	return id
}

func serve(h *Handlers, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.routes(fstestEmpty{}).ServeHTTP(rec, req)
	return rec
}

// fstestEmpty is an empty static FS.
type fstestEmpty struct{}

func (fstestEmpty) Open(name string) (fs.File, error) { return nil, fs.ErrNotExist }

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// --- API ---

func TestAPIStatus(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var st scheduler.Status
	decodeJSON(t, rec, &st)
	if st.State != scheduler.StatePaused {
		t.Errorf("state = %q, want paused", st.State)
	}
}

func TestAPIStatus_NoDaemon(t *testing.T) {
	h := setupTest(t)
	h.svc.Capture = nil

	rec := serve(h, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Error.Code != "CAPTURE_FAILED" {
		t.Errorf("code = %q, want CAPTURE_FAILED", body.Error.Code)
	}
}

func TestAPIToggle(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("POST", "/api/capture/toggle", strings.NewReader(`{"active":true}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var st scheduler.Status
	decodeJSON(t, rec, &st)
	if st.State != scheduler.StateActive {
		t.Errorf("state = %q, want active", st.State)
	}

	// The same command again is a no-op.
	rec = serve(h, httptest.NewRequest("POST", "/api/capture/toggle", strings.NewReader(`{"active":true}`)))
	decodeJSON(t, rec, &st)
	if st.State != scheduler.StateActive {
		t.Errorf("state after repeat = %q, want active", st.State)
	}

	// A target state is required.
	rec = serve(h, httptest.NewRequest("POST", "/api/capture/toggle", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", rec.Code)
	}
}

func TestAPIToggle_BadJSON(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("POST", "/api/capture/toggle", strings.NewReader(`{"enabled":true}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPICaptureNow(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("POST", "/api/capture/manual", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.CaptureNowOutput
	decodeJSON(t, rec, &out)
	if out.EntryID != "01MANUAL" {
		t.Errorf("entry_id = %q", out.EntryID)
	}
	if out.Status.CaptureCount != 1 {
		t.Errorf("capture_count = %d, want 1", out.Status.CaptureCount)
	}
}

func TestAPITimeline(t *testing.T) {
	h := setupTest(t)
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.Local)
	seedEntry(t, h, day.Add(9*time.Hour), "Editor", "main.go", "package main")
	seedEntry(t, h, day.Add(10*time.Hour), "Browser", "Docs", "reference")

	rec := serve(h, httptest.NewRequest("GET", "/api/timeline?date=2024-06-15", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var out ops.TimelineOutput
	decodeJSON(t, rec, &out)
	if out.Captures != 2 {
		t.Errorf("captures = %d, want 2", out.Captures)
	}
	if len(out.Buckets) != 2 {
		t.Errorf("buckets = %d, want 2", len(out.Buckets))
	}

	rec = serve(h, httptest.NewRequest("GET", "/api/timeline?date=2024-06-15&app=Browser", nil))
	decodeJSON(t, rec, &out)
	if out.Captures != 1 {
		t.Errorf("filtered captures = %d, want 1", out.Captures)
	}
}

func TestAPITimeline_BadHour(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/api/timeline?granularity=hour&hour=noon", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPISearch_Keyword(t *testing.T) {
	h := setupTest(t)
	now := time.Now()
	seedEntry(t, h, now.Add(-time.Hour), "Editor", "notes", "quarterly budget review")
	seedEntry(t, h, now.Add(-2*time.Hour), "Editor", "todo", "buy groceries")

	rec := serve(h, httptest.NewRequest("GET", "/api/search?q=budget&method=keyword", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var out ops.SearchOutput
	decodeJSON(t, rec, &out)
	if len(out.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(out.Items))
	}
	if !strings.Contains(out.Items[0].Snippet, "<b>budget</b>") {
		t.Errorf("snippet = %q, want highlighted term", out.Items[0].Snippet)
	}
}

func TestAPISearch_SemanticWithoutEmbedder(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/api/search?q=anything&method=semantic", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.SearchOutput
	decodeJSON(t, rec, &out)
	if out.Error == "" {
		t.Error("expected error field for unavailable index")
	}
	if len(out.Items) != 0 {
		t.Errorf("items = %d, want 0", len(out.Items))
	}
}

func TestAPISettings_GetAndUpdate(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/api/settings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var before ops.SettingsOutput
	decodeJSON(t, rec, &before)

	rec = serve(h, httptest.NewRequest("PUT", "/api/settings", strings.NewReader(`{"capture":{"interval_seconds":45}}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var after ops.SettingsOutput
	decodeJSON(t, rec, &after)
	if after.Version <= before.Version {
		t.Errorf("version %d did not advance past %d", after.Version, before.Version)
	}
	if after.Settings.Capture.IntervalSeconds != 45 {
		t.Errorf("interval = %d, want 45", after.Settings.Capture.IntervalSeconds)
	}
}

func TestAPISettings_UpdateRejectsUnknownField(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("PUT", "/api/settings", strings.NewReader(`{"nope":1}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPIRules_Lifecycle(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("POST", "/api/rules", strings.NewReader(`{"type":"application","value":"1Password"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var rule exclusion.Rule
	decodeJSON(t, rec, &rule)
	if rule.ID == "" {
		t.Fatal("expected rule id")
	}

	rec = serve(h, httptest.NewRequest("POST", "/api/rules", strings.NewReader(`{"type":"application","value":"1Password"}`)))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", rec.Code)
	}

	rec = serve(h, httptest.NewRequest("GET", "/api/rules", nil))
	var list ops.ListRulesOutput
	decodeJSON(t, rec, &list)
	if len(list.Rules) != 1 {
		t.Errorf("rules = %d, want 1", len(list.Rules))
	}

	rec = serve(h, httptest.NewRequest("DELETE", "/api/rules/"+rule.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	rec = serve(h, httptest.NewRequest("DELETE", "/api/rules/"+rule.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestAPIRules_InvalidType(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("POST", "/api/rules", strings.NewReader(`{"type":"color","value":"red"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPIStorage(t *testing.T) {
	h := setupTest(t)
	seedEntry(t, h, time.Now().Add(-time.Minute), "Editor", "a", "text")

	rec := serve(h, httptest.NewRequest("GET", "/api/storage", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats ops.StorageStatsOutput
	decodeJSON(t, rec, &stats)
	if stats.CaptureCount != 1 {
		t.Errorf("capture_count = %d, want 1", stats.CaptureCount)
	}
	if stats.HotBytes <= 0 {
		t.Errorf("hot_bytes = %d, want > 0", stats.HotBytes)
	}

	rec = serve(h, httptest.NewRequest("POST", "/api/storage/cleanup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, httptest.NewRequest("GET", "/api/archives", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("archives status = %d, want 200", rec.Code)
	}
}

func TestAPIArchives_Unknown(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("POST", "/api/archives/2019-01/compress", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("compress status = %d, want 404", rec.Code)
	}
	rec = serve(h, httptest.NewRequest("DELETE", "/api/archives/2019-01", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete status = %d, want 404", rec.Code)
	}
}

func TestAPIEntries(t *testing.T) {
	h := setupTest(t)
	id := seedEntry(t, h, time.Now().Add(-time.Minute), "Editor", "draft", "hello")

	rec := serve(h, httptest.NewRequest("GET", "/api/entries/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var e ops.EntryOutput
	decodeJSON(t, rec, &e)
	if e.ExtractedText != "hello" {
		t.Errorf("text = %q", e.ExtractedText)
	}

	rec = serve(h, httptest.NewRequest("DELETE", "/api/entries/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	rec = serve(h, httptest.NewRequest("GET", "/api/entries/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}
}

func TestInternalErrorIsNotLeaked(t *testing.T) {
	h := setupTest(t)
	h.svc.DB.Close()

	rec := serve(h, httptest.NewRequest("GET", "/api/rules", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body errorBody
	decodeJSON(t, rec, &body)
	if body.Error.Message != "internal error" {
		t.Errorf("message = %q, want generic message", body.Error.Message)
	}
}

// --- Media ---

func TestHandleScreenshot(t *testing.T) {
	h := setupTest(t)
	id := seedEntry(t, h, time.Now().Add(-time.Minute), "Editor", "a", "")

	rec := serve(h, httptest.NewRequest("GET", "/screenshots/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content-type = %q, want image/png", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), testPNG(t)) {
		t.Error("screenshot bytes differ from stored PNG")
	}
}

func TestHandleScreenshot_NotFound(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/screenshots/01NOPE", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// --- Pages ---

func TestRootRedirects(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/timeline" {
		t.Errorf("Location = %q, want /timeline", loc)
	}
}

func TestHandleTimeline(t *testing.T) {
	h := setupTest(t)
	day := time.Date(2024, 6, 15, 0, 0, 0, 0, time.Local)
	seedEntry(t, h, day.Add(14*time.Hour), "Terminal", "build logs", "go test ./...")

	rec := serve(h, httptest.NewRequest("GET", "/timeline?date=2024-06-15", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Timeline - Eidon", "Terminal", "build logs", "2024-06-14", "2024-06-16"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestHandleTimeline_HTMXRendersContentOnly(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/timeline", nil)
	req.Header.Set("HX-Request", "true")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<!DOCTYPE html>") {
		t.Error("htmx response should not include the layout")
	}
}

func TestHandleSearch(t *testing.T) {
	h := setupTest(t)
	seedEntry(t, h, time.Now().Add(-time.Hour), "Browser", "Release notes", "<script>alert(1)</script> release checklist")

	rec := serve(h, httptest.NewRequest("GET", "/search?q=checklist&method=keyword", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<b>checklist</b>") {
		t.Error("expected highlighted match in results")
	}
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("captured text must be escaped")
	}
}

func TestHandleSearch_ResultsFragment(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/search?q=nothing&method=keyword", nil)
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-Target", "results")
	rec := serve(h, req)

	body := rec.Body.String()
	if strings.Contains(body, "<form") {
		t.Error("fragment should not include the search form")
	}
	if !strings.Contains(body, "No matches.") {
		t.Error("expected empty-result message")
	}
}

func TestHandleSearch_NoQuery(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/search", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Type a query") {
		t.Error("expected prompt when no query is given")
	}
}

func TestHandleEntry(t *testing.T) {
	h := setupTest(t)
	id := seedEntry(t, h, time.Now().Add(-time.Minute), "Editor", "design doc", "# Heading\n\nbody text")

	rec := serve(h, httptest.NewRequest("GET", "/entries/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "design doc") {
		t.Error("expected window title")
	}
	if !strings.Contains(body, "/screenshots/"+id) {
		t.Error("expected screenshot URL")
	}
}

func TestHandleEntry_NotFoundJSON(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/entries/01MISSING", nil)
	req.Header.Set("Accept", "application/json")
	rec := serve(h, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
}

func TestHandleEntry_NotFoundPage(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/entries/01MISSING", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Error 404") {
		t.Error("expected error page")
	}
}

func TestHandleDeleteEntry_HTMX(t *testing.T) {
	h := setupTest(t)
	id := seedEntry(t, h, time.Now().Add(-time.Minute), "Editor", "a", "")

	req := httptest.NewRequest("DELETE", "/entries/"+id, nil)
	req.Header.Set("HX-Request", "true")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("HX-Redirect"); got != "/timeline" {
		t.Errorf("HX-Redirect = %q, want /timeline", got)
	}
}

func TestHandleStorage(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/storage", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No archives yet.") {
		t.Error("expected empty archive table")
	}
}

func TestHandleCleanup_HTMX(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("POST", "/storage/cleanup", nil)
	req.Header.Set("HX-Request", "true")
	rec := serve(h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cleanup-result") {
		t.Error("expected cleanup fragment")
	}
}

func TestHandleRules_AddAndList(t *testing.T) {
	h := setupTest(t)

	form := url.Values{"type": {"url"}, "value": {"bank.example.com"}, "description": {"banking"}}
	req := httptest.NewRequest("POST", "/rules", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("add status = %d, want 302: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, httptest.NewRequest("GET", "/rules", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "bank.example.com") {
		t.Error("expected new rule in list")
	}
	if !strings.Contains(body, "banking") {
		t.Error("expected rule description in list")
	}
}

func TestHandleRules_AddInvalidHTMX(t *testing.T) {
	h := setupTest(t)

	form := url.Values{"type": {"application"}, "value": {"  "}}
	req := httptest.NewRequest("POST", "/rules", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	rec := serve(h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error-message") {
		t.Error("expected error fragment")
	}
}

func TestHandleSettings(t *testing.T) {
	h := setupTest(t)

	rec := serve(h, httptest.NewRequest("GET", "/settings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "interval_seconds") {
		t.Error("expected settings JSON on page")
	}
}

func TestHandleToggle_RedirectsToLocalPathOnly(t *testing.T) {
	h := setupTest(t)

	form := url.Values{"active": {"true"}, "next": {"//evil.example.com"}}
	req := httptest.NewRequest("POST", "/capture/toggle", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/timeline" {
		t.Errorf("Location = %q, want /timeline", loc)
	}
	st, _ := h.svc.Capture.Status(context.Background())
	if st.State != scheduler.StateActive {
		t.Errorf("state = %q, want active", st.State)
	}
}

func TestHandleToggle_HeaderButtonCarriesTargetState(t *testing.T) {
	h := setupTest(t)
	sched := scheduler.New(scheduler.Deps{
		Capturer: capture.Unavailable{},
		Store:    h.svc.Storage,
		Config:   h.svc.Config,
	})
	h.svc.Capture = ops.LocalCapture{S: sched}

	rec := serve(h, httptest.NewRequest("GET", "/timeline", nil))
	if !strings.Contains(rec.Body.String(), `name="active" value="false"`) {
		t.Fatalf("expected pause button with active=false, got:\n%s", rec.Body.String())
	}

	events, cancel := sched.Subscribe()
	defer cancel()

	// A double click posts the same form twice.
	for i := 0; i < 2; i++ {
		form := url.Values{"active": {"false"}}
		req := httptest.NewRequest("POST", "/capture/toggle", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if rec := serve(h, req); rec.Code != http.StatusFound {
			t.Fatalf("post %d: status = %d, want 302", i, rec.Code)
		}
	}

	if n := len(events); n != 1 {
		t.Errorf("transitions = %d, want 1", n)
	}
	if st := sched.Status(); st.State != scheduler.StatePaused {
		t.Errorf("state = %q, want paused", st.State)
	}

	rec = serve(h, httptest.NewRequest("GET", "/timeline", nil))
	if !strings.Contains(rec.Body.String(), `name="active" value="true"`) {
		t.Error("expected resume button with active=true after pausing")
	}
}

func TestHandleToggle_MissingTargetState(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("POST", "/capture/toggle", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	st, _ := h.svc.Capture.Status(context.Background())
	if st.State != scheduler.StatePaused {
		t.Errorf("state = %q, want paused", st.State)
	}
}

func TestLayoutShowsOfflineWithoutDaemon(t *testing.T) {
	h := setupTest(t)
	h.svc.Capture = nil

	rec := serve(h, httptest.NewRequest("GET", "/rules", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "offline") {
		t.Error("expected offline capture badge")
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := setupTest(t)
	handler := securityHeaders(h.routes(fstestEmpty{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/rules", nil))

	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
	if !strings.Contains(rec.Header().Get("Content-Security-Policy"), "default-src 'self'") {
		t.Error("missing Content-Security-Policy")
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		bind string
		want string
	}{
		{"127.0.0.1", "http://127.0.0.1:8765"},
		{"0.0.0.0", "http://127.0.0.1:8765"},
		{"::", "http://127.0.0.1:8765"},
		{"", "http://127.0.0.1:8765"},
		{"::1", "http://[::1]:8765"},
	}
	for _, tt := range tests {
		if got := BaseURL(tt.bind, 8765); got != tt.want {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.bind, got, tt.want)
		}
	}
}

func TestLocalPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/search?q=x", "/search?q=x"},
		{"", "/timeline"},
		{"https://evil.example.com", "/timeline"},
		{"//evil.example.com", "/timeline"},
		{"/\\evil.example.com", "/timeline"},
	}
	for _, tt := range tests {
		if got := localPath(tt.in, "/timeline"); got != tt.want {
			t.Errorf("localPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList([]string{"Slack, Mail", "Terminal", " "})
	want := []string{"Slack", "Mail", "Terminal"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
