package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/ops"
	"github.com/hpungsan/eidon/internal/scheduler"
)

// titleMarker appears in every page title so the capture loop can recognise
// its own UI in a browser window.
const titleMarker = "Eidon"

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "timeline", "search", "storage", "rules", "settings"
	Status  *scheduler.Status
}

// TimelinePageData is the template data for the timeline page.
type TimelinePageData struct {
	PageData
	Timeline *ops.TimelineOutput
	Date     string
	Prev     string
	Next     string
	Apps     string
}

// SearchPageData is the template data for the search page.
type SearchPageData struct {
	PageData
	Query    string
	Method   string
	Sort     string
	From     string
	To       string
	Apps     string
	Result   *ops.SearchOutput
	HasQuery bool
}

// EntryPageData is the template data for the entry detail page.
type EntryPageData struct {
	PageData
	Entry        *ops.EntryOutput
	RenderedText template.HTML
}

// StoragePageData is the template data for the storage page.
type StoragePageData struct {
	PageData
	Stats    *ops.StorageStatsOutput
	Archives *ops.ListArchivesOutput
}

// RulesPageData is the template data for the exclusion rules page.
type RulesPageData struct {
	PageData
	Rules *ops.ListRulesOutput
}

// SettingsPageData is the template data for the settings page.
type SettingsPageData struct {
	PageData
	Settings *ops.SettingsOutput
	JSON     string
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	log       *logger.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, log *logger.Logger) *Renderer {
	if log == nil {
		log = logger.Discard()
	}
	funcMap := template.FuncMap{
		"formatTime":  formatTime,
		"formatClock": formatClock,
		"relTime":     relTime,
		"bytes":       formatBytes,
		"percent":     func(f float64) string { return fmt.Sprintf("%.1f%%", f) },
		"safeHTML":    func(s string) template.HTML { return template.HTML(s) },
		"join":        strings.Join,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"timeline": "timeline.html",
		"search":   "search.html",
		"entry":    "entry.html",
		"storage":  "storage.html",
		"rules":    "rules.html",
		"settings": "settings.html",
		"error":    "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		log:       log,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
// For HTMX requests, only the "content" block is rendered to avoid duplicating the layout.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if req != nil && req.Header.Get("HX-Request") == "true" {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a specific named block from a page template.
// Used for htmx partial swaps that target a sub-section of the page.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		r.log.Error("template %q not found", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		r.log.Error("template %s/%s execution error: %v", page, block, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// publicError converts err to an EidonError safe to show to a client.
// Internal error details are logged, never returned.
func publicError(log *logger.Logger, err error) *errors.EidonError {
	eErr, ok := errors.As(err)
	if !ok {
		eErr = errors.NewInternal(err)
	}
	if eErr.Code == errors.ErrInternal {
		log.Error("internal error: %v", err)
		return &errors.EidonError{Code: eErr.Code, Status: eErr.Status, Message: "internal error"}
	}
	return eErr
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Status  int            `json:"status"`
		Details map[string]any `json:"details,omitempty"`
	} `json:"error"`
}

func writeJSONError(w http.ResponseWriter, eErr *errors.EidonError) {
	var body errorBody
	body.Error.Code = string(eErr.Code)
	body.Error.Message = eErr.Message
	body.Error.Status = eErr.Status
	body.Error.Details = eErr.Details
	renderJSON(w, eErr.Status, body)
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	eErr := publicError(r.log, err)
	status := eErr.Status
	message := eErr.Message

	// HTMX request: return HTML fragment
	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		writeJSONError(w, eErr)
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts captured text to HTML using goldmark. Raw HTML in
// the text is escaped by goldmark's default (unsafe off) renderer.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats t as "2006-01-02 15:04:05" in local time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatClock formats t as "15:04" in local time.
func formatClock(t time.Time) string {
	return t.Local().Format("15:04")
}

// relTime renders t relative to now ("3 minutes ago").
func relTime(t any) string {
	switch v := t.(type) {
	case time.Time:
		if v.IsZero() {
			return "never"
		}
		return humanize.Time(v)
	case *time.Time:
		if v == nil || v.IsZero() {
			return "never"
		}
		return humanize.Time(*v)
	}
	return ""
}

// formatBytes renders n as a binary size ("1.5 GiB").
func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
