package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwellner/unbound-admin/internal/api"
	"github.com/fwellner/unbound-admin/internal/apply"
	"github.com/fwellner/unbound-admin/internal/blocklist"
	"github.com/fwellner/unbound-admin/internal/refresh"
	"github.com/fwellner/unbound-admin/internal/settings"
	"github.com/fwellner/unbound-admin/internal/unbound"
)

type fixture struct {
	server  *httptest.Server
	paths   unbound.Paths
	store   *settings.Store
	checker *fakeChecker
	control *fakeControl
}

type fakeChecker struct {
	ok     bool
	output string
}

func (f *fakeChecker) Check(context.Context, string) (bool, string, error) {
	return f.ok, f.output, nil
}

type fakeReloader struct{}

func (fakeReloader) Reload(context.Context) error { return nil }

type fakeControl struct {
	stats   map[string]string
	flushed []string
}

func (f *fakeControl) Stats(context.Context) (map[string]string, error) { return f.stats, nil }

func (f *fakeControl) Flush(_ context.Context, name string) error {
	f.flushed = append(f.flushed, name)
	return nil
}

func (f *fakeControl) FlushZone(_ context.Context, name string) error {
	f.flushed = append(f.flushed, "zone:"+name)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dataDir := t.TempDir()
	paths := unbound.DefaultPaths(t.TempDir(), dataDir)
	logger := testLogger(t)

	store := settings.NewStore(filepath.Join(dataDir, "settings.json"), logger)
	sources := settings.NewSources(filepath.Join(dataDir, "blocklists.json"), logger)
	whitelist := settings.NewWhitelist(filepath.Join(dataDir, "whitelist.json"), logger)
	records := settings.NewRecords(filepath.Join(dataDir, "local_records.json"), logger)
	status := settings.NewStatus(filepath.Join(dataDir, "blocklist_status.json"), logger)

	checker := &fakeChecker{ok: true}
	applier := apply.New(paths, checker, fakeReloader{}, logger)
	builder := apply.NewBuilder(paths, filepath.Join(dataDir, "custom.conf"))
	refresher := refresh.NewRefresher(store, sources, whitelist, status, blocklist.New(logger), builder, applier, logger)
	control := &fakeControl{stats: map[string]string{}}

	handler := api.New(api.Config{
		Store:         store,
		Sources:       sources,
		Whitelist:     whitelist,
		Records:       records,
		Status:        status,
		Refresher:     refresher,
		Builder:       builder,
		Applier:       applier,
		Control:       control,
		BlocklistPath: paths.Blocklist,
		QueryLogPath:  paths.QueryLog,
		Logger:        logger,
	})

	server := httptest.NewServer(handler.Router())
	t.Cleanup(server.Close)

	return &fixture{server: server, paths: paths, store: store, checker: checker, control: control}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, f.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestAPI_Config(t *testing.T) {
	t.Parallel()

	t.Run("returns the current settings", func(t *testing.T) {
		f := newFixture(t)

		resp, body := f.do(t, http.MethodGet, "/api/config", "")
		require.EqualValues(t, http.StatusOK, resp.StatusCode)

		config, ok := body["config"].(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, 2, config["num_threads"])
	})

	t.Run("merges, applies and persists an update", func(t *testing.T) {
		f := newFixture(t)

		resp, body := f.do(t, http.MethodPut, "/api/config", `{"num_threads": 8}`)
		require.EqualValues(t, http.StatusOK, resp.StatusCode)
		assert.EqualValues(t, true, body["ok"])
		assert.EqualValues(t, true, body["restart_required"])

		assert.EqualValues(t, 8, f.store.Load().NumThreads)

		content, err := os.ReadFile(f.paths.Conf)
		require.NoError(t, err)
		assert.Contains(t, string(content), "num-threads: 8")
	})

	t.Run("rejects out-of-bounds values synchronously", func(t *testing.T) {
		f := newFixture(t)

		resp, _ := f.do(t, http.MethodPut, "/api/config", `{"num_threads": 99}`)
		require.EqualValues(t, http.StatusBadRequest, resp.StatusCode)
		assert.EqualValues(t, 2, f.store.Load().NumThreads)
	})

	t.Run("validator rejection keeps the previous settings live", func(t *testing.T) {
		f := newFixture(t)
		f.checker.ok = false
		f.checker.output = "bad directive on line 3"

		resp, body := f.do(t, http.MethodPut, "/api/config", `{"verbosity": 4}`)
		require.EqualValues(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["error"], "bad directive on line 3")

		assert.EqualValues(t, 1, f.store.Load().Verbosity)
		assert.NoFileExists(t, f.paths.Conf)
	})
}

func TestAPI_Blocklists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/blocklists", `{"url": "https://example.com/hosts.txt"}`)
	require.EqualValues(t, http.StatusCreated, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/blocklists", `{"url": "https://example.com/hosts.txt"}`)
	require.EqualValues(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/blocklists", `{}`)
	require.EqualValues(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, f.server.URL+"/api/blocklists", nil)
	require.NoError(t, err)
	listResp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.EqualValues(t, "https://example.com/hosts.txt", entries[0]["url"])

	resp, body := f.do(t, http.MethodDelete, "/api/blocklists/0", "")
	require.EqualValues(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, "https://example.com/hosts.txt", body["url"])

	resp, _ = f.do(t, http.MethodDelete, "/api/blocklists/0", "")
	require.EqualValues(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Refresh(t *testing.T) {
	t.Parallel()

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0.0.0.0 ads.example\n"))
	}))
	t.Cleanup(source.Close)

	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/blocklists", `{"url": "`+source.URL+`"}`)
	require.EqualValues(t, http.StatusCreated, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/blocklists/refresh", "")
	require.EqualValues(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["domains_blocked"])

	content, err := os.ReadFile(f.paths.Blocklist)
	require.NoError(t, err)
	assert.Contains(t, string(content), "ads.example")
}

func TestAPI_Whitelist(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/whitelist", `{"domain": "Ads.Example"}`)
	require.EqualValues(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, "ads.example", body["domain"])

	resp, _ = f.do(t, http.MethodPost, "/api/whitelist", `{"domain": "ads.example"}`)
	require.EqualValues(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodDelete, "/api/whitelist/0", "")
	require.EqualValues(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, "ads.example", body["domain"])
}

func TestAPI_LocalRecords(t *testing.T) {
	t.Parallel()

	t.Run("add compiles and applies the fragment", func(t *testing.T) {
		f := newFixture(t)

		resp, _ := f.do(t, http.MethodPost, "/api/local-records", `{"hostname": "nas.home", "ip": "192.168.1.10"}`)
		require.EqualValues(t, http.StatusCreated, resp.StatusCode)

		content, err := os.ReadFile(f.paths.LocalRecords)
		require.NoError(t, err)
		assert.Contains(t, string(content), `local-zone: "nas.home." redirect`)
		assert.Contains(t, string(content), `local-data: "nas.home. A 192.168.1.10"`)
	})

	t.Run("rejects duplicates and bad input", func(t *testing.T) {
		f := newFixture(t)

		resp, _ := f.do(t, http.MethodPost, "/api/local-records", `{"hostname": "nas.home", "ip": "192.168.1.10"}`)
		require.EqualValues(t, http.StatusCreated, resp.StatusCode)

		resp, _ = f.do(t, http.MethodPost, "/api/local-records", `{"hostname": "nas.home", "ip": "192.168.1.20"}`)
		require.EqualValues(t, http.StatusConflict, resp.StatusCode)

		resp, _ = f.do(t, http.MethodPost, "/api/local-records", `{"hostname": "printer.home", "ip": "nope"}`)
		require.EqualValues(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("remove rewrites the fragment", func(t *testing.T) {
		f := newFixture(t)

		resp, _ := f.do(t, http.MethodPost, "/api/local-records", `{"hostname": "nas.home", "ip": "192.168.1.10"}`)
		require.EqualValues(t, http.StatusCreated, resp.StatusCode)

		resp, _ = f.do(t, http.MethodDelete, "/api/local-records/0", "")
		require.EqualValues(t, http.StatusOK, resp.StatusCode)

		content, err := os.ReadFile(f.paths.LocalRecords)
		require.NoError(t, err)
		assert.Empty(t, string(content))
	})
}

func TestAPI_Cache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/cache/flush", "")
	require.EqualValues(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, f.control.flushed, "zone:.")

	resp, _ = f.do(t, http.MethodPost, "/api/cache/flush-domain", `{"domain": "example.com"}`)
	require.EqualValues(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, f.control.flushed, "example.com")

	resp, _ = f.do(t, http.MethodPost, "/api/cache/flush-domain", `{}`)
	require.EqualValues(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_Stats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.control.stats = map[string]string{
		"total.num.queries":         "1000",
		"total.num.cachehits":       "250",
		"total.num.cachemiss":       "750",
		"time.up":                   "500",
		"num.query.type.A":          "800",
		"num.answer.rcode.NXDOMAIN": "10",
		"mem.cache.rrset":           "1024",
	}

	require.NoError(t, os.WriteFile(f.paths.Blocklist, []byte(
		"local-zone: \"ads.example.\" always_refuse\nlocal-zone: \"tracker.example.\" always_refuse\n"), 0o644))

	resp, body := f.do(t, http.MethodGet, "/api/stats", "")
	require.EqualValues(t, http.StatusOK, resp.StatusCode)

	assert.EqualValues(t, 1000, body["total_queries"])
	assert.EqualValues(t, 25, body["cache_hit_rate"])
	assert.EqualValues(t, 2, body["blocked_domains"])
	assert.EqualValues(t, 2, body["queries_per_sec"])
}

func TestAPI_QueryLog(t *testing.T) {
	t.Parallel()

	logText := strings.Join([]string{
		"[1708012345] unbound[1:0] info: start of service (unbound 1.19.0).",
		"[1708012346] unbound[1:0] info: 192.168.1.1 example.com. A IN",
		"[1708012347] unbound[1:1] info: 192.168.1.20 nas.home. AAAA IN",
		"[1708012348] unbound[1:0] info: 192.168.1.1 example.com. A IN",
		"",
	}, "\n")

	t.Run("returns parsed entries", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.WriteFile(f.paths.QueryLog, []byte(logText), 0o644))

		resp, err := f.server.Client().Get(f.server.URL + "/api/query-log")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.EqualValues(t, http.StatusOK, resp.StatusCode)

		var entries []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		require.Len(t, entries, 3)

		assert.EqualValues(t, "example.com", entries[0]["domain"])
		assert.EqualValues(t, "192.168.1.1", entries[0]["client"])
		assert.EqualValues(t, "A", entries[0]["type"])
		assert.EqualValues(t, "IN", entries[0]["class"])
		assert.EqualValues(t, 1708012346, entries[0]["timestamp"])
	})

	t.Run("missing log yields an empty list", func(t *testing.T) {
		f := newFixture(t)

		resp, err := f.server.Client().Get(f.server.URL + "/api/query-log")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.EqualValues(t, http.StatusOK, resp.StatusCode)

		var entries []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		assert.Empty(t, entries)
	})

	t.Run("aggregates top domains by query count", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, os.WriteFile(f.paths.QueryLog, []byte(logText), 0o644))

		resp, err := f.server.Client().Get(f.server.URL + "/api/top-domains")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.EqualValues(t, http.StatusOK, resp.StatusCode)

		var top []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&top))
		require.Len(t, top, 2)

		assert.EqualValues(t, "example.com", top[0]["domain"])
		assert.EqualValues(t, 2, top[0]["count"])
		assert.EqualValues(t, "nas.home", top[1]["domain"])
		assert.EqualValues(t, 1, top[1]["count"])
	})
}

func testLogger(t *testing.T) *slog.Logger {
	h := slog.NewTextHandler(t.Output(), &slog.HandlerOptions{
		AddSource: testing.Verbose(),
		Level:     slog.LevelDebug,
	})

	return slog.New(h).With("test", t.Name())
}
