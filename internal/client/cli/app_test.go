package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/buildinfo"
	"github.com/dmitrijs2005/readkeeper/internal/client/client"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/services"
	"github.com/dmitrijs2005/readkeeper/internal/client/versionguard"
	"github.com/dmitrijs2005/readkeeper/internal/client/workerrpc"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

type fakeReader struct {
	services.ReaderService

	items    []services.ListItem
	filter   models.Filter
	article  *services.Article
	released bool
	progress []float64
	sync     services.SyncOutcome
	status   services.Status
	err      error
}

func (f *fakeReader) List(_ context.Context, flt models.Filter) ([]services.ListItem, error) {
	f.filter = flt
	return f.items, f.err
}

func (f *fakeReader) Open(context.Context, string) (*services.Article, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.article.Release = func() { f.released = true }
	return f.article, nil
}

func (f *fakeReader) RecordScroll(_ context.Context, id string, top, height, viewport float64) (models.ReadProgress, error) {
	f.progress = append(f.progress, top, height, viewport)
	return models.ReadProgress{BookmarkID: id, ScrollPercent: 50}, f.err
}

func (f *fakeReader) SetProgress(_ context.Context, id string, pct float64) (models.ReadProgress, error) {
	f.progress = append(f.progress, pct)
	return models.ReadProgress{BookmarkID: id, ScrollPercent: pct}, f.err
}

func (f *fakeReader) MarkRead(_ context.Context, id string) (models.ReadProgress, error) {
	return models.ReadProgress{BookmarkID: id, ScrollPercent: 100}, f.err
}

func (f *fakeReader) Sync(context.Context, bool) (services.SyncOutcome, error) {
	return f.sync, f.err
}

func (f *fakeReader) Status(context.Context) (services.Status, error) {
	return f.status, f.err
}

type fakeAuth struct {
	services.AuthService

	pingErr  error
	online   bool
	loginErr error
	token    string
	loggedIn bool
}

func (f *fakeAuth) Ping(context.Context) error { return f.pingErr }

func (f *fakeAuth) Login(_ context.Context, token []byte) (bool, error) {
	f.token = string(token)
	return f.online, f.loginErr
}

func (f *fakeAuth) Logout(context.Context) error {
	f.loggedIn = false
	return nil
}

func newTestApp(r *fakeReader, auth *fakeAuth, input string) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(r, auth, time.Second, bytes.NewBufferString(input), &out)
	a.render = func(md string) (string, bool) { return "RENDERED:" + md, true }
	return a, &out
}

func TestSetMode_ReportsOnlyChanges(t *testing.T) {
	a, out := newTestApp(&fakeReader{}, &fakeAuth{}, "")
	assert.Equal(t, ModeOffline, a.Mode())

	a.setMode(ModeOnline)
	assert.Contains(t, out.String(), "Switched to online mode")

	out.Reset()
	a.setMode(ModeOnline)
	assert.Empty(t, out.String())
}

func TestCheckOnline(t *testing.T) {
	auth := &fakeAuth{}
	a, _ := newTestApp(&fakeReader{}, auth, "")
	ctx := context.Background()

	a.checkOnline(ctx)
	assert.Equal(t, ModeOnline, a.Mode())

	auth.pingErr = client.ErrUnavailable
	a.checkOnline(ctx)
	assert.Equal(t, ModeOffline, a.Mode())

	auth.pingErr = client.ErrUnauthorized
	a.checkOnline(ctx)
	assert.Equal(t, ModeDisabled, a.Mode())

	auth.pingErr = nil
	a.checkOnline(ctx)
	assert.Equal(t, ModeDisabled, a.Mode(), "only a login leaves disabled mode")
}

func TestList_FilterAndFormatting(t *testing.T) {
	r := &fakeReader{items: []services.ListItem{
		{
			Bookmark:      models.Bookmark{ID: "b1", Title: "Cached", Tags: []string{"go"}},
			Progress:      &models.ReadProgress{ScrollPercent: 42, PendingPush: true},
			CachedVersion: 2,
		},
		{Bookmark: models.Bookmark{ID: "b2", Title: "Remote only"}},
	}}
	a, out := newTestApp(r, &fakeAuth{}, "")

	require.NoError(t, a.List(context.Background(), []string{"archived", "#Go"}))
	assert.Equal(t, models.Filter{Archive: models.Archived, Tag: "go"}, r.filter)
	assert.Contains(t, out.String(), "* b1  Cached  42% pending  #go")
	assert.Contains(t, out.String(), "  b2  Remote only")

	require.ErrorIs(t, a.List(context.Background(), []string{"bogus"}), errUsage)
}

func TestList_Empty(t *testing.T) {
	a, out := newTestApp(&fakeReader{}, &fakeAuth{}, "")
	require.NoError(t, a.List(context.Background(), nil))
	assert.Contains(t, out.String(), "No bookmarks")
}

func TestRead_RendersCachedContent(t *testing.T) {
	r := &fakeReader{article: &services.Article{
		Bookmark: models.Bookmark{ID: "b1", Title: "Title", URL: "https://example.com"},
		Entry:    &models.CacheEntry{BookmarkID: "b1", ContentVersion: 1},
		Markdown: "# Hello",
		Stale:    true,
	}}
	a, out := newTestApp(r, &fakeAuth{}, "")

	require.NoError(t, a.Read(context.Background(), []string{"b1"}))
	assert.Contains(t, out.String(), "RENDERED:# Hello")
	assert.Contains(t, out.String(), "older cached version")
	assert.True(t, r.released)
}

func TestRead_NotCached(t *testing.T) {
	r := &fakeReader{article: &services.Article{Bookmark: models.Bookmark{ID: "b1"}}}
	a, out := newTestApp(r, &fakeAuth{}, "")

	require.NoError(t, a.Read(context.Background(), []string{"b1"}))
	assert.Contains(t, out.String(), "not available offline")
	assert.True(t, r.released)

	require.ErrorIs(t, a.Read(context.Background(), nil), errUsage)
}

func TestProgressCommands(t *testing.T) {
	r := &fakeReader{}
	a, out := newTestApp(r, &fakeAuth{}, "")
	ctx := context.Background()

	require.NoError(t, a.Scroll(ctx, []string{"b1", "10", "200", "100"}))
	require.NoError(t, a.Progress(ctx, []string{"b1", "35"}))
	require.NoError(t, a.Done(ctx, []string{"b1"}))
	assert.Equal(t, []float64{10, 200, 100, 35}, r.progress)
	assert.Contains(t, out.String(), "b1: 100% (will sync)")

	require.Error(t, a.Progress(ctx, []string{"b1", "lots"}))
	require.ErrorIs(t, a.Scroll(ctx, []string{"b1"}), errUsage)
	require.ErrorIs(t, a.Done(ctx, nil), errUsage)
}

func TestSync_ReportsWhereItRan(t *testing.T) {
	r := &fakeReader{sync: services.SyncOutcome{ViaWorker: true, Result: workerrpc.SyncResult{Pulled: 3, Cached: 2}}}
	a, out := newTestApp(r, &fakeAuth{}, "")

	require.NoError(t, a.Sync(context.Background(), false))
	assert.Contains(t, out.String(), "Synced by the cache worker: 3 pulled")

	a.setMode(ModeDisabled)
	require.Error(t, a.Sync(context.Background(), false))
}

func TestStatus(t *testing.T) {
	r := &fakeReader{status: services.Status{
		Pending:        2,
		SessionInvalid: true,
		Cache:          map[models.CacheState]int{models.CacheCurrent: 4, models.CacheStale: 1},
	}}
	a, out := newTestApp(r, &fakeAuth{}, "")

	require.NoError(t, a.Status(context.Background()))
	assert.Contains(t, out.String(), "last sync:     never")
	assert.Contains(t, out.String(), "pending:       2")
	assert.Contains(t, out.String(), "4 current, 1 stale, 0 staged")
	assert.Contains(t, out.String(), "invalid")
}

func TestLoginLogout(t *testing.T) {
	withTerminal(t, false, nil)
	auth := &fakeAuth{online: true}
	a, out := newTestApp(&fakeReader{}, auth, "tok\n")
	ctx := context.Background()

	require.NoError(t, a.Login(ctx))
	assert.Equal(t, "tok", auth.token)
	assert.Equal(t, ModeOnline, a.Mode())
	assert.Contains(t, out.String(), "Login successful")

	require.NoError(t, a.Logout(ctx))
	assert.Equal(t, ModeDisabled, a.Mode())
}

func TestLogin_Error(t *testing.T) {
	withTerminal(t, false, nil)
	auth := &fakeAuth{loginErr: errors.New("rejected")}
	a, _ := newTestApp(&fakeReader{}, auth, "bad\n")

	require.Error(t, a.Login(context.Background()))
	assert.Equal(t, ModeOffline, a.Mode())
}

func TestCallbacks(t *testing.T) {
	a, out := newTestApp(&fakeReader{}, &fakeAuth{}, "")

	a.SessionExpired()
	assert.Equal(t, ModeDisabled, a.Mode())
	assert.Contains(t, out.String(), "rejected the API token")

	a.PromptReload(versionguard.Result{
		Status: versionguard.StatusMismatch,
		Shell:  buildinfo.VersionInfo{Version: "v2"},
		Worker: buildinfo.VersionInfo{Version: "v1"},
	})
	assert.Contains(t, out.String(), "cache worker runs v1")
}

func TestRun_ExitsOnEOF(t *testing.T) {
	a, out := newTestApp(&fakeReader{}, &fakeAuth{}, "help\n")
	a.Run(context.Background())
	assert.Contains(t, out.String(), "Welcome to readkeeper")
	assert.Contains(t, out.String(), "rk (online)> ")
}
