// Package api provides the operator-facing HTTP surface: reading and updating
// settings, managing blocklist sources, whitelist entries and local records,
// triggering manual refreshes and flushing resolver cache entries. Every
// mutation funnels into the settings stores and the apply controller, the API
// itself holds no state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fwellner/unbound-admin/internal/apply"
	"github.com/fwellner/unbound-admin/internal/records"
	"github.com/fwellner/unbound-admin/internal/refresh"
	"github.com/fwellner/unbound-admin/internal/settings"
)

type (
	// The ControlClient type is the subset of the resolver's control channel
	// used by the API.
	ControlClient interface {
		Stats(ctx context.Context) (map[string]string, error)
		Flush(ctx context.Context, name string) error
		FlushZone(ctx context.Context, name string) error
	}

	// The Config type contains the collaborators the API delegates to.
	Config struct {
		Store     *settings.Store
		Sources   *settings.Sources
		Whitelist *settings.Whitelist
		Records   *settings.Records
		Status    *settings.Status
		Refresher *refresh.Refresher
		Builder   *apply.Builder
		Applier   *apply.Controller
		Control   ControlClient
		// Path of the live blocklist fragment, used to count blocked domains
		// for the stats endpoint.
		BlocklistPath string
		// Path of the resolver's query log, read by the query-log endpoints.
		QueryLogPath string
		Logger       *slog.Logger
	}

	// The API type serves the operator endpoints.
	API struct {
		config Config
	}
)

// New returns an API using the given collaborators.
func New(config Config) *API {
	return &API{config: config}
}

// Router returns the API's routes mounted on a chi router.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", a.getConfig)
		r.Put("/config", a.putConfig)

		r.Get("/blocklists", a.listBlocklists)
		r.Post("/blocklists", a.addBlocklist)
		r.Delete("/blocklists/{index}", a.removeBlocklist)
		r.Post("/blocklists/refresh", a.refreshBlocklists)

		r.Get("/whitelist", a.listWhitelist)
		r.Post("/whitelist", a.addWhitelist)
		r.Delete("/whitelist/{index}", a.removeWhitelist)

		r.Get("/local-records", a.listRecords)
		r.Post("/local-records", a.addRecord)
		r.Delete("/local-records/{index}", a.removeRecord)

		r.Post("/cache/flush", a.flushCache)
		r.Post("/cache/flush-domain", a.flushDomain)

		r.Get("/stats", a.stats)
		r.Get("/query-log", a.queryLog)
		r.Get("/top-domains", a.topDomains)
	})

	return r
}

func (a *API) getConfig(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"config": a.config.Store.Load(),
	})
}

func (a *API) putConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Merge the submitted keys onto the current document, absent keys keep
	// their current value.
	current := a.config.Store.Load()
	proposed := current
	if err = json.Unmarshal(body, &proposed); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err = proposed.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	candidate, err := a.config.Builder.Build(proposed, nil, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := a.config.Applier.Apply(r.Context(), candidate)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Outcome == apply.OutcomeRejected {
		respondError(w, http.StatusBadRequest, "config check failed: "+result.Detail)
		return
	}

	// The settings document only reflects configurations that made it onto
	// disk, so persist after the apply was accepted.
	if _, err = a.config.Store.Update(func(s *settings.Settings) { *s = proposed }); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	message := "configuration applied"
	if result.Outcome == apply.OutcomeReloadFailed {
		message = "configuration saved but reload failed: " + result.Detail
	}

	restartRequired := current.NumThreads != proposed.NumThreads
	if restartRequired {
		message += " (restart required for thread count change)"
	}

	respond(w, http.StatusOK, map[string]any{
		"ok":               true,
		"message":          message,
		"restart_required": restartRequired,
	})
}

func (a *API) listBlocklists(w http.ResponseWriter, r *http.Request) {
	urls, err := a.config.Sources.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status, err := a.config.Status.All()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type entry struct {
		URL string `json:"url"`
		settings.SourceStatus
	}

	entries := make([]entry, 0, len(urls))
	for _, url := range urls {
		entries = append(entries, entry{URL: url, SourceStatus: status[url]})
	}

	respond(w, http.StatusOK, entries)
}

func (a *API) addBlocklist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decode(r, &body); err != nil || strings.TrimSpace(body.URL) == "" {
		respondError(w, http.StatusBadRequest, "missing 'url' field")
		return
	}

	url := strings.TrimSpace(body.URL)

	switch err := a.config.Sources.Add(url); {
	case errors.Is(err, settings.ErrDuplicate):
		respondError(w, http.StatusConflict, "URL already exists")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respond(w, http.StatusCreated, map[string]any{"status": "added", "url": url})
	}
}

func (a *API) removeBlocklist(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid index")
		return
	}

	removed, err := a.config.Sources.Remove(index)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		respondError(w, http.StatusNotFound, "invalid index")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err = a.config.Status.Forget(removed); err != nil {
		a.config.Logger.With("error", err, "url", removed).Warn("failed to drop source status")
	}

	respond(w, http.StatusOK, map[string]any{"status": "removed", "url": removed})
}

func (a *API) refreshBlocklists(w http.ResponseWriter, r *http.Request) {
	summary, err := a.config.Refresher.Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, http.StatusOK, summary)
}

func (a *API) listWhitelist(w http.ResponseWriter, r *http.Request) {
	domains, err := a.config.Whitelist.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, http.StatusOK, domains)
}

func (a *API) addWhitelist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain string `json:"domain"`
	}
	if err := decode(r, &body); err != nil || strings.TrimSpace(body.Domain) == "" {
		respondError(w, http.StatusBadRequest, "missing 'domain' field")
		return
	}

	domain := strings.ToLower(strings.TrimSpace(body.Domain))

	switch err := a.config.Whitelist.Add(domain); {
	case errors.Is(err, settings.ErrDuplicate):
		respondError(w, http.StatusConflict, "domain already whitelisted")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respond(w, http.StatusCreated, map[string]any{"status": "added", "domain": domain})
	}
}

func (a *API) removeWhitelist(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid index")
		return
	}

	removed, err := a.config.Whitelist.Remove(index)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		respondError(w, http.StatusNotFound, "invalid index")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respond(w, http.StatusOK, map[string]any{"status": "removed", "domain": removed})
	}
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	list, err := a.config.Records.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respond(w, http.StatusOK, list)
}

func (a *API) addRecord(w http.ResponseWriter, r *http.Request) {
	var record settings.Record
	if err := decode(r, &record); err != nil {
		respondError(w, http.StatusBadRequest, "missing 'hostname' and/or 'ip' field")
		return
	}

	if err := records.Validate(&record); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	exists, err := a.config.Records.Contains(record.Hostname)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if exists {
		respondError(w, http.StatusConflict, "hostname already exists")
		return
	}

	current, err := a.config.Records.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	next := append(append([]settings.Record{}, current...), record)

	result, err := a.applyRecords(r.Context(), next)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Outcome == apply.OutcomeRejected {
		respondError(w, http.StatusBadRequest, "config check failed: "+result.Detail)
		return
	}

	respond(w, http.StatusCreated, map[string]any{
		"status":   "added",
		"hostname": record.Hostname,
		"ip":       record.IP,
		"apply":    result,
	})
}

func (a *API) removeRecord(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid index")
		return
	}

	current, err := a.config.Records.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if index < 0 || index >= len(current) {
		respondError(w, http.StatusNotFound, "invalid index")
		return
	}

	removed := current[index]
	next := append(append([]settings.Record{}, current[:index]...), current[index+1:]...)

	result, err := a.applyRecords(r.Context(), next)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Outcome == apply.OutcomeRejected {
		respondError(w, http.StatusBadRequest, "config check failed: "+result.Detail)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"status":   "removed",
		"hostname": removed.Hostname,
		"apply":    result,
	})
}

// applyRecords compiles the desired record list, applies it to the live
// resolver and persists the store only once the apply was accepted, so the
// stored list never diverges from what is running.
func (a *API) applyRecords(ctx context.Context, next []settings.Record) (apply.Result, error) {
	fragment := records.Compile(next)

	candidate, err := a.config.Builder.Build(a.config.Store.Load(), nil, &fragment)
	if err != nil {
		return apply.Result{}, err
	}

	result, err := a.config.Applier.Apply(ctx, candidate)
	if err != nil {
		return apply.Result{}, err
	}

	if result.Outcome == apply.OutcomeRejected {
		return result, nil
	}

	return result, a.config.Records.Replace(next)
}

func (a *API) flushCache(w http.ResponseWriter, r *http.Request) {
	if err := a.config.Control.FlushZone(r.Context(), "."); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to flush cache: "+err.Error())
		return
	}

	respond(w, http.StatusOK, map[string]any{"status": "flushed"})
}

func (a *API) flushDomain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain string `json:"domain"`
	}
	if err := decode(r, &body); err != nil || strings.TrimSpace(body.Domain) == "" {
		respondError(w, http.StatusBadRequest, "missing 'domain' field")
		return
	}

	domain := strings.TrimSpace(body.Domain)
	if err := a.config.Control.Flush(r.Context(), domain); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to flush domain: "+err.Error())
		return
	}

	respond(w, http.StatusOK, map[string]any{"status": "flushed", "domain": domain})
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}

	return raw, nil
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]any{"ok": false, "error": message})
}
