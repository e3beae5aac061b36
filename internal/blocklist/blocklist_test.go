package blocklist_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/davidsbond/x/set"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwellner/unbound-admin/internal/blocklist"
)

func TestPipeline_Refresh(t *testing.T) {
	t.Parallel()

	goodSource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# Title: test list\n" +
			"0.0.0.0 Ads.Example\n" +
			"127.0.0.1 tracker.example # inline comment\n" +
			"0.0.0.0 localhost\n" +
			"192.168.1.1 example.com\n" +
			"not-a-hosts-line\n" +
			"0.0.0.0 ads.example\r\n"))
	}))
	t.Cleanup(goodSource.Close)

	overlapSource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0.0.0.0 ads.example\n0.0.0.0 metrics.example\n"))
	}))
	t.Cleanup(overlapSource.Close)

	failingSource := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	t.Cleanup(failingSource.Close)

	pipeline := blocklist.New(testLogger(t))

	t.Run("merges and normalizes sources", func(t *testing.T) {
		result, err := pipeline.Refresh(t.Context(), []string{goodSource.URL}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, []string{"ads.example", "tracker.example"}, result.Domains)
		assert.Empty(t, result.Failures)
	})

	t.Run("duplicates across sources collapse", func(t *testing.T) {
		result, err := pipeline.Refresh(t.Context(), []string{goodSource.URL, overlapSource.URL}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, []string{"ads.example", "metrics.example", "tracker.example"}, result.Domains)
		assert.EqualValues(t, 3, result.Counts[goodSource.URL])
		assert.EqualValues(t, 2, result.Counts[overlapSource.URL])
	})

	t.Run("whitelist subtraction is exact match", func(t *testing.T) {
		whitelist := set.New[string]()
		whitelist.Put("ads.example")

		result, err := pipeline.Refresh(t.Context(), []string{goodSource.URL, overlapSource.URL}, whitelist)
		require.NoError(t, err)
		assert.EqualValues(t, []string{"metrics.example", "tracker.example"}, result.Domains)
	})

	t.Run("a failing source does not abort the refresh", func(t *testing.T) {
		result, err := pipeline.Refresh(t.Context(), []string{goodSource.URL, failingSource.URL}, nil)
		require.NoError(t, err)
		assert.EqualValues(t, []string{"ads.example", "tracker.example"}, result.Domains)

		require.Len(t, result.Failures, 1)
		assert.EqualValues(t, failingSource.URL, result.Failures[0].URL)
		assert.Contains(t, result.Failures[0].Reason, "503")
	})

	t.Run("unreachable source is reported", func(t *testing.T) {
		result, err := pipeline.Refresh(t.Context(), []string{"http://127.0.0.1:1/hosts.txt"}, nil)
		require.NoError(t, err)
		assert.Empty(t, result.Domains)
		require.Len(t, result.Failures, 1)
	})

	t.Run("refresh is idempotent", func(t *testing.T) {
		first, err := pipeline.Refresh(t.Context(), []string{goodSource.URL, overlapSource.URL}, nil)
		require.NoError(t, err)

		second, err := pipeline.Refresh(t.Context(), []string{goodSource.URL, overlapSource.URL}, nil)
		require.NoError(t, err)

		assert.EqualValues(t, blocklist.Fragment(first.Domains), blocklist.Fragment(second.Domains))
	})

	t.Run("infrastructure names are never blocked", func(t *testing.T) {
		result, err := pipeline.Refresh(t.Context(), []string{goodSource.URL}, nil)
		require.NoError(t, err)
		assert.NotContains(t, result.Domains, "localhost")
	})

	t.Run("non-blocking entries are ignored", func(t *testing.T) {
		result, err := pipeline.Refresh(t.Context(), []string{goodSource.URL}, nil)
		require.NoError(t, err)
		assert.NotContains(t, result.Domains, "example.com")
	})
}

func TestFragment(t *testing.T) {
	t.Parallel()

	fragment := blocklist.Fragment([]string{"ads.example", "tracker.example"})
	assert.EqualValues(t,
		"local-zone: \"ads.example.\" always_refuse\n"+
			"local-zone: \"tracker.example.\" always_refuse\n",
		fragment,
	)

	assert.Empty(t, blocklist.Fragment(nil))
}

func testLogger(t *testing.T) *slog.Logger {
	h := slog.NewTextHandler(t.Output(), &slog.HandlerOptions{
		AddSource: testing.Verbose(),
		Level:     slog.LevelDebug,
	})

	return slog.New(h).With("test", t.Name())
}
