package web

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/eidon/internal/errors"
	"github.com/hpungsan/eidon/internal/logger"
	"github.com/hpungsan/eidon/internal/ops"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains HTTP route handlers for the API and the web UI.
type Handlers struct {
	svc      *ops.Services
	renderer *Renderer
	hub      *Hub
	log      *logger.Logger
}

// apiError writes err as a JSON error envelope.
func (h *Handlers) apiError(w http.ResponseWriter, err error) {
	writeJSONError(w, publicError(h.log, err))
}

// decodeBody decodes a JSON request body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// APIStatus handles GET /api/status.
func (h *Handlers) APIStatus(w http.ResponseWriter, r *http.Request) {
	st, err := ops.CaptureStatus(r.Context(), h.svc)
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, st)
}

type toggleRequest struct {
	Active *bool `json:"active"`
}

// APIToggle handles POST /api/capture/toggle with {"active": true|false}.
func (h *Handlers) APIToggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeBody(r, &req); err != nil {
		h.apiError(w, err)
		return
	}
	st, err := ops.ToggleCapture(r.Context(), h.svc, ops.ToggleCaptureInput{Active: req.Active})
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, st)
}

// APICaptureNow handles POST /api/capture/manual.
func (h *Handlers) APICaptureNow(w http.ResponseWriter, r *http.Request) {
	out, err := ops.CaptureNow(r.Context(), h.svc)
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APITimeline handles GET /api/timeline?date=&granularity=&hour=&app=.
func (h *Handlers) APITimeline(w http.ResponseWriter, r *http.Request) {
	input, err := timelineInput(r)
	if err != nil {
		h.apiError(w, err)
		return
	}
	out, err := ops.Timeline(r.Context(), h.svc, input)
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APISearch handles GET /api/search?q=&method=&sort=&from=&to=&app=&limit=.
func (h *Handlers) APISearch(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Search(r.Context(), h.svc, searchInput(r))
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIGetSettings handles GET /api/settings.
func (h *Handlers) APIGetSettings(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetSettings(r.Context(), h.svc)
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIUpdateSettings handles PUT /api/settings with a partial settings document.
func (h *Handlers) APIUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.apiError(w, errors.NewInvalidRequest("could not read body"))
		return
	}
	out, err := ops.UpdateSettings(r.Context(), h.svc, ops.UpdateSettingsInput{Patch: body})
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIListRules handles GET /api/rules.
func (h *Handlers) APIListRules(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListRules(r.Context(), h.svc)
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

type addRuleRequest struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// APIAddRule handles POST /api/rules.
func (h *Handlers) APIAddRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if err := decodeBody(r, &req); err != nil {
		h.apiError(w, err)
		return
	}
	rule, err := ops.AddRule(r.Context(), h.svc, ops.AddRuleInput{Type: req.Type, Value: req.Value, Description: req.Description})
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, rule)
}

// APIDeleteRule handles DELETE /api/rules/{id}.
func (h *Handlers) APIDeleteRule(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteRule(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIStorageStats handles GET /api/storage.
func (h *Handlers) APIStorageStats(w http.ResponseWriter, r *http.Request) {
	out, err := ops.StorageStats(r.Context(), h.svc)
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APICleanup handles POST /api/storage/cleanup.
func (h *Handlers) APICleanup(w http.ResponseWriter, r *http.Request) {
	out, err := ops.RunCleanup(r.Context(), h.svc)
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIListArchives handles GET /api/archives?limit=.
func (h *Handlers) APIListArchives(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListArchives(r.Context(), h.svc, ops.ListArchivesInput{
		Limit: parseIntParam(r, "limit", ops.DefaultArchiveLimit),
	})
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APICompressArchive handles POST /api/archives/{id}/compress.
func (h *Handlers) APICompressArchive(w http.ResponseWriter, r *http.Request) {
	out, err := ops.CompressArchive(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIDeleteArchive handles DELETE /api/archives/{id}.
func (h *Handlers) APIDeleteArchive(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteArchive(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIGetEntry handles GET /api/entries/{id}.
func (h *Handlers) APIGetEntry(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetEntry(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// APIDeleteEntry handles DELETE /api/entries/{id}.
func (h *Handlers) APIDeleteEntry(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteEntry(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.apiError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleScreenshot handles GET /screenshots/{id}. Cold entries are
// decompressed transparently.
func (h *Handlers) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	data, err := ops.GetScreenshot(r.Context(), h.svc, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleStatusSocket handles GET /ws/status.
func (h *Handlers) HandleStatusSocket(w http.ResponseWriter, r *http.Request) {
	st, err := ops.CaptureStatus(r.Context(), h.svc)
	if err != nil {
		st = nil
	}
	h.hub.Serve(w, r, st)
}

// timelineInput reads timeline parameters from the query string.
func timelineInput(r *http.Request) (ops.TimelineInput, error) {
	q := r.URL.Query()
	input := ops.TimelineInput{
		Date:        q.Get("date"),
		Granularity: q.Get("granularity"),
		Apps:        splitList(q["app"]),
		Limit:       parseIntParam(r, "limit", 0),
		Location:    time.Local,
	}
	if s := q.Get("hour"); s != "" {
		hour, err := strconv.Atoi(s)
		if err != nil {
			return input, errors.NewInvalidRequest("hour must be an integer")
		}
		input.Hour = &hour
	}
	return input, nil
}

// searchInput reads search parameters from the query string.
func searchInput(r *http.Request) ops.SearchInput {
	q := r.URL.Query()
	return ops.SearchInput{
		Query:    q.Get("q"),
		Method:   q.Get("method"),
		Sort:     q.Get("sort"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Apps:     splitList(q["app"]),
		Limit:    parseIntParam(r, "limit", 0),
		Location: time.Local,
	}
}

// splitList accepts both repeated parameters and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
