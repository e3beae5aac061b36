package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fwellner/unbound-admin/internal/server"
)

func TestRun(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip()
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	dataDir := t.TempDir()
	confDir := t.TempDir()

	config := server.Config{
		Admin: server.AdminConfig{Bind: "127.0.0.1:42137"},
		Data:  server.DataConfig{Dir: dataDir},
		Unbound: server.UnboundConfig{
			ConfDir: confDir,
			// Stand-ins that accept anything, so the full apply path runs
			// without a resolver installed.
			Checkconf:  "true",
			Control:    "true",
			CustomConf: filepath.Join(dataDir, "unbound_custom.conf"),
		},
		Refresh: server.RefreshConfig{Interval: time.Hour},
		Logging: &server.LoggingConfig{Level: "debug"},
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		t.Log("starting test server")
		require.NoError(t, server.Run(ctx, config))

		return nil
	})

	// Wait for the server to start up.
	<-time.After(time.Second)

	base := "http://" + config.Admin.Bind

	t.Run("serves the current settings", func(t *testing.T) {
		resp, err := http.Get(base + "/api/config")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.EqualValues(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body, "config")
	})

	t.Run("applies a settings update end to end", func(t *testing.T) {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPut, base+"/api/config",
			strings.NewReader(`{"verbosity": 3}`))
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		require.EqualValues(t, http.StatusOK, resp.StatusCode)

		content, err := os.ReadFile(filepath.Join(confDir, "unbound.conf"))
		require.NoError(t, err)
		assert.Contains(t, string(content), "verbosity: 3")
	})

	t.Run("eager refresh seeds the fragments", func(t *testing.T) {
		require.Eventually(t, func() bool {
			_, err := os.Stat(filepath.Join(confDir, "blocklist.conf"))
			return err == nil
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("exposes prometheus metrics", func(t *testing.T) {
		resp, err := http.Get(base + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.EqualValues(t, http.StatusOK, resp.StatusCode)
	})

	cancel()
	require.NoError(t, group.Wait())
}
