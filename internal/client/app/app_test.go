package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/client"
	"github.com/dmitrijs2005/readkeeper/internal/client/config"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookmarkServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/bookmarks/changes", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.ChangeSet{
			Bookmarks: []models.RemoteBookmark{{
				ID: "b1", Title: "Offline reading", URL: "https://example.com/b1",
				UpdatedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), ContentVersion: 1,
			}},
			Cursor: "c1",
		})
	})
	mux.HandleFunc("GET /api/v1/bookmarks/b1/content", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"bookmark_id": "b1", "content_version": 1, "content_type": "text/html",
			"body": "<p>Stored for the plane</p>",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// guardedServer serves the bookmark API only to requests carrying token.
func guardedServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	api := bookmarkServer(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		api.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// freeAddr returns a loopback address nothing listens on.
func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return addr
}

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	cfg.ServerURL = serverURL
	cfg.WorkerAddr = freeAddr(t)
	cfg.EventsAddr = ""
	cfg.MaxRetries = 0
	cfg.VersionCheckTimeout = 200 * time.Millisecond
	return cfg
}

// storeToken saves an API token the way a previous login would.
func storeToken(t *testing.T, cfg *config.Config, token string) {
	t.Helper()
	ctx := context.Background()
	repos, err := client.InitDatabase(ctx, cfg.DatabasePath())
	require.NoError(t, err)
	defer repos.Close()
	require.NoError(t, repos.Metadata.SetString(ctx, metadata.KeyAuthToken, token))
}

func TestShell_SyncsLocallyWithoutWorker(t *testing.T) {
	srv := bookmarkServer(t)
	cfg := testConfig(t, srv.URL)
	storeToken(t, cfg, "tok")
	ctx := context.Background()

	var out bytes.Buffer
	s, err := OpenShell(ctx, cfg, logging.Discard(), bytes.NewBuffer(nil), &out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.App.Sync(ctx, false))
	assert.Contains(t, out.String(), "Synced locally: 1 pulled")

	out.Reset()
	require.NoError(t, s.App.List(ctx, nil))
	assert.Contains(t, out.String(), "b1  Offline reading")

	out.Reset()
	require.NoError(t, s.App.Read(ctx, []string{"b1"}))
	assert.Contains(t, out.String(), "Stored for the plane")
}

func TestWorker_RunsCyclesAndServesShell(t *testing.T) {
	srv := bookmarkServer(t)
	cfg := testConfig(t, srv.URL)
	cfg.SyncInterval = time.Hour
	storeToken(t, cfg, "tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWorker(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		b, err := w.comps.Store.Get(ctx, "b1")
		return err == nil && b != nil
	}, 5*time.Second, 20*time.Millisecond)

	var out bytes.Buffer
	s, err := OpenShell(ctx, cfg, logging.Discard(), bytes.NewBuffer(nil), &out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.Eventually(t, func() bool {
		out.Reset()
		return s.App.Sync(ctx, false) == nil && strings.Contains(out.String(), "by the cache worker")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_PicksUpLoginFromShell(t *testing.T) {
	srv := guardedServer(t, "good")
	cfg := testConfig(t, srv.URL)
	cfg.SyncInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWorker(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, w.comps.Engine.SessionInvalid, 5*time.Second, 20*time.Millisecond,
		"the worker starts without credentials")

	var out bytes.Buffer
	s, err := OpenShell(ctx, cfg, logging.Discard(), bytes.NewBufferString("good\n"), &out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.App.Login(ctx))
	assert.Contains(t, out.String(), "Login successful")

	require.Eventually(t, func() bool {
		out.Reset()
		return s.App.Sync(ctx, false) == nil && strings.Contains(out.String(), "by the cache worker")
	}, 5*time.Second, 50*time.Millisecond)

	assert.False(t, w.comps.Engine.SessionInvalid())
	b, err := w.comps.Store.Get(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, b)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
