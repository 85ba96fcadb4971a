package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/client"
	"github.com/dmitrijs2005/readkeeper/internal/client/content"
	"github.com/dmitrijs2005/readkeeper/internal/client/services"
	"github.com/dmitrijs2005/readkeeper/internal/client/versionguard"
	"github.com/fatih/color"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
	// ModeDisabled means the server rejected the token. Sync stays off
	// until the next login.
	ModeDisabled Mode = "disabled"
)

type App struct {
	reader services.ReaderService
	auth   services.AuthService
	in     *bufio.Reader
	out    io.Writer
	render func(md string) (string, bool)

	onlineCheckInterval time.Duration

	mu   sync.Mutex
	mode Mode
}

func NewApp(r services.ReaderService, auth services.AuthService, onlineCheckInterval time.Duration, in io.Reader, out io.Writer) *App {
	if onlineCheckInterval <= 0 {
		onlineCheckInterval = 3 * time.Second
	}
	return &App{
		reader:              r,
		auth:                auth,
		in:                  bufio.NewReader(in),
		out:                 out,
		render:              content.Render,
		onlineCheckInterval: onlineCheckInterval,
		mode:                ModeOffline,
	}
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		fmt.Fprintf(a.out, "Switched to %s mode\n", mode)
	}
}

// Run starts the online watcher and blocks in the REPL until the user exits
// or ctx is done.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintln(a.out, "Welcome to readkeeper (type 'help' for commands)")
	a.checkOnline(ctx)
	go a.StartOnlineStatusWatcher(ctx, a.onlineCheckInterval)

	runREPL(ctx, a, a.prompt, a.in, a.out)
}

func (a *App) prompt() string {
	return fmt.Sprintf("rk (%s)> ", a.Mode())
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkOnline(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) checkOnline(ctx context.Context) {
	if a.Mode() == ModeDisabled {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := a.auth.Ping(pctx)
	cancel()

	switch {
	case err == nil:
		a.setMode(ModeOnline)
	case errors.Is(err, client.ErrUnauthorized):
		a.setMode(ModeDisabled)
	default:
		a.setMode(ModeOffline)
	}
}

// SessionExpired is wired to the sync engine and fires when the server
// rejects the stored token.
func (a *App) SessionExpired() {
	a.setMode(ModeDisabled)
	fmt.Fprintln(a.out, color.RedString("The server rejected the API token. Run 'login' to continue syncing."))
}

// PromptReload is wired to the version guard.
func (a *App) PromptReload(res versionguard.Result) {
	fmt.Fprintln(a.out, color.YellowString(
		"The cache worker runs %s but this shell is %s. Restart both to reload a single build.",
		res.Worker, res.Shell))
}
