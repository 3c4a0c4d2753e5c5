package web

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/ops"
	"github.com/hpungsan/eidon/internal/scheduler"
)

// pageData fills the fields shared by every page.
func (h *Handlers) pageData(r *http.Request, title, nav string) PageData {
	return PageData{
		Title:   title,
		Version: h.renderer.version,
		Nav:     nav,
		Status:  h.status(r),
	}
}

// status returns the capture status, or nil when capture is unavailable.
func (h *Handlers) status(r *http.Request) *scheduler.Status {
	st, err := ops.CaptureStatus(r.Context(), h.svc)
	if err != nil {
		return nil
	}
	return st
}

// HandleTimeline handles GET /timeline: captures for one day grouped by hour.
func (h *Handlers) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	input, err := timelineInput(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	result, err := ops.Timeline(r.Context(), h.svc, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	day := result.From.In(time.Local)
	h.renderer.renderPage(w, r, "timeline", TimelinePageData{
		PageData: h.pageData(r, "Timeline", "timeline"),
		Timeline: result,
		Date:     day.Format(ops.DateLayout),
		Prev:     day.AddDate(0, 0, -1).Format(ops.DateLayout),
		Next:     day.AddDate(0, 0, 1).Format(ops.DateLayout),
		Apps:     strings.Join(input.Apps, ", "),
	})
}

// HandleSearch handles GET /search: keyword, semantic or hybrid search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	input := searchInput(r)
	data := SearchPageData{
		PageData: h.pageData(r, "Search", "search"),
		Query:    input.Query,
		Method:   input.Method,
		Sort:     input.Sort,
		From:     input.From,
		To:       input.To,
		Apps:     strings.Join(input.Apps, ", "),
		HasQuery: strings.TrimSpace(input.Query) != "",
	}

	if data.HasQuery {
		result, err := ops.Search(r.Context(), h.svc, input)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		data.Result = result
	}

	// If htmx targets #results, render only the results fragment
	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "search", "search-results", data)
		return
	}
	h.renderer.renderPage(w, r, "search", data)
}

// HandleEntry handles GET /entries/{id}: one capture with its screenshot and text.
func (h *Handlers) HandleEntry(w http.ResponseWriter, r *http.Request) {
	e, err := ops.GetEntry(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	title := e.AppName
	if title == "" {
		title = "Capture"
	}
	h.renderer.renderPage(w, r, "entry", EntryPageData{
		PageData:     h.pageData(r, title, "timeline"),
		Entry:        e,
		RenderedText: renderMarkdown(e.ExtractedText),
	})
}

// HandleDeleteEntry handles DELETE /entries/{id}.
func (h *Handlers) HandleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteEntry(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.afterMutation(w, r, "/timeline", result)
}

// HandleStorage handles GET /storage: usage and monthly archives.
func (h *Handlers) HandleStorage(w http.ResponseWriter, r *http.Request) {
	stats, err := ops.StorageStats(r.Context(), h.svc)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	archives, err := ops.ListArchives(r.Context(), h.svc, ops.ListArchivesInput{})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, r, "storage", StoragePageData{
		PageData: h.pageData(r, "Storage", "storage"),
		Stats:    stats,
		Archives: archives,
	})
}

// HandleCleanup handles POST /storage/cleanup: runs the retention and archival sweeps now.
func (h *Handlers) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	result, err := ops.RunCleanup(r.Context(), h.svc)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// HTMX request: return HTML fragment
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="cleanup-result">` + template.HTMLEscapeString(result.Summary()) + `</div>`))
		return
	}
	h.afterMutation(w, r, "/storage", result)
}

// HandleRules handles GET /rules: the exclusion rule list.
func (h *Handlers) HandleRules(w http.ResponseWriter, r *http.Request) {
	rules, err := ops.ListRules(r.Context(), h.svc)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.renderer.renderPage(w, r, "rules", RulesPageData{
		PageData: h.pageData(r, "Exclusion rules", "rules"),
		Rules:    rules,
	})
}

// HandleAddRule handles POST /rules from the add-rule form.
func (h *Handlers) HandleAddRule(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	rule, err := ops.AddRule(r.Context(), h.svc, ops.AddRuleInput{
		Type:        r.FormValue("type"),
		Value:       r.FormValue("value"),
		Description: r.FormValue("description"),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.afterMutation(w, r, "/rules", rule)
}

// HandleDeleteRule handles DELETE /rules/{id}.
func (h *Handlers) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteRule(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.afterMutation(w, r, "/rules", result)
}

// HandleSettings handles GET /settings: the current settings document.
func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := ops.GetSettings(r.Context(), h.svc)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	raw, err := json.MarshalIndent(settings.Settings, "", "  ")
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	h.renderer.renderPage(w, r, "settings", SettingsPageData{
		PageData: h.pageData(r, "Settings", "settings"),
		Settings: settings,
		JSON:     string(raw),
	})
}

// HandleToggle handles POST /capture/toggle from the header button.
func (h *Handlers) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	var input ops.ToggleCaptureInput
	if s := r.FormValue("active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("active must be true or false"))
			return
		}
		input.Active = &active
	}
	st, err := ops.ToggleCapture(r.Context(), h.svc, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.afterMutation(w, r, localPath(r.FormValue("next"), "/timeline"), st)
}

// afterMutation answers a successful form action: htmx clients get an
// HX-Redirect, JSON clients the result, everyone else a 302.
func (h *Handlers) afterMutation(w http.ResponseWriter, r *http.Request, location string, result any) {
	// HTMX request: redirect via HX-Redirect header
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
		return
	}

	// JSON request
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		renderJSON(w, http.StatusOK, result)
		return
	}

	// Default: redirect
	http.Redirect(w, r, location, http.StatusFound)
}

// localPath returns p when it is a path on this server, otherwise fallback.
func localPath(p, fallback string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return fallback
	}
	return p
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
