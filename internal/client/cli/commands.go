package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/services"
	"github.com/dmitrijs2005/readkeeper/internal/common"
	"github.com/fatih/color"
)

// parseFilter understands "all", "archived" and "#tag" in any order.
func parseFilter(args []string) (models.Filter, error) {
	var f models.Filter
	for _, arg := range args {
		switch {
		case arg == "all":
			f.Archive = models.AnyArchive
		case arg == "archived":
			f.Archive = models.Archived
		case strings.HasPrefix(arg, "#") && len(arg) > 1:
			f.Tag = strings.ToLower(arg[1:])
		default:
			return f, fmt.Errorf("%w: list [all|archived] [#tag]", errUsage)
		}
	}
	return f, nil
}

func (a *App) List(ctx context.Context, args []string) error {
	f, err := parseFilter(args)
	if err != nil {
		return err
	}
	items, err := a.reader.List(ctx, f)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "No bookmarks. Run 'sync' to fetch them.")
		return nil
	}
	for _, it := range items {
		fmt.Fprintln(a.out, formatItem(it))
	}
	return nil
}

func formatItem(it services.ListItem) string {
	marker := " "
	if it.Offline() {
		marker = color.GreenString("*")
	}
	line := fmt.Sprintf("%s %s  %s", marker, color.CyanString(it.Bookmark.ID), it.Bookmark.Title)
	if it.Progress != nil {
		pct := fmt.Sprintf("%.0f%%", it.Progress.ScrollPercent)
		if it.Progress.PendingPush {
			pct = color.YellowString(pct + " pending")
		}
		line += "  " + pct
	}
	if len(it.Bookmark.Tags) > 0 {
		line += "  #" + strings.Join(it.Bookmark.Tags, " #")
	}
	return line
}

func (a *App) Read(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: read <id>", errUsage)
	}
	art, err := a.reader.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer art.Release()

	fmt.Fprintln(a.out, color.New(color.Bold).Sprint(art.Bookmark.Title))
	fmt.Fprintln(a.out, art.Bookmark.URL)
	if art.Progress != nil {
		fmt.Fprintf(a.out, "read %.0f%%\n", art.Progress.ScrollPercent)
	}

	if art.Entry == nil {
		fmt.Fprintln(a.out, color.YellowString("Content is not available offline yet."))
		return nil
	}
	if art.Stale {
		fmt.Fprintln(a.out, color.YellowString("Showing an older cached version."))
	}

	rendered, _ := a.render(art.Markdown)
	fmt.Fprintln(a.out, rendered)
	return nil
}

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, s := range args {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		out[i] = v
	}
	return out, nil
}

func (a *App) Scroll(ctx context.Context, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("%w: scroll <id> <top> <height> <viewport>", errUsage)
	}
	v, err := parseFloats(args[1:])
	if err != nil {
		return err
	}
	p, err := a.reader.RecordScroll(ctx, args[0], v[0], v[1], v[2])
	if err != nil {
		return err
	}
	a.printProgress(p)
	return nil
}

func (a *App) Progress(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: progress <id> <percent>", errUsage)
	}
	v, err := parseFloats(args[1:])
	if err != nil {
		return err
	}
	p, err := a.reader.SetProgress(ctx, args[0], v[0])
	if err != nil {
		return err
	}
	a.printProgress(p)
	return nil
}

func (a *App) Done(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: done <id>", errUsage)
	}
	p, err := a.reader.MarkRead(ctx, args[0])
	if err != nil {
		return err
	}
	a.printProgress(p)
	return nil
}

func (a *App) printProgress(p models.ReadProgress) {
	fmt.Fprintf(a.out, "%s: %.0f%% (will sync)\n", p.BookmarkID, p.ScrollPercent)
}

func (a *App) Sync(ctx context.Context, full bool) error {
	if a.Mode() == ModeDisabled {
		return errors.New("sync is disabled until you log in again")
	}
	out, err := a.reader.Sync(ctx, full)
	if err != nil {
		return err
	}
	where := "locally"
	if out.ViaWorker {
		where = "by the cache worker"
	}
	r := out.Result
	fmt.Fprintf(a.out, "Synced %s: %d pulled, %d updated, %d deleted, %d cached, %d pushed\n",
		where, r.Pulled, r.Updated, r.Deleted, r.Cached, r.Pushed)
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st, err := a.reader.Status(ctx)
	if err != nil {
		return err
	}
	last := "never"
	if !st.Cursor.LastSyncedAt.IsZero() {
		last = st.Cursor.LastSyncedAt.Local().Format(time.DateTime)
	}
	fmt.Fprintf(a.out, "mode:          %s\n", a.Mode())
	fmt.Fprintf(a.out, "last sync:     %s\n", last)
	fmt.Fprintf(a.out, "sync state:    %s\n", st.State)
	fmt.Fprintf(a.out, "pending:       %d\n", st.Pending)
	fmt.Fprintf(a.out, "cache:         %d current, %d stale, %d staged\n",
		st.Cache[models.CacheCurrent], st.Cache[models.CacheStale], st.Cache[models.CacheStaged])
	if st.SessionInvalid {
		fmt.Fprintln(a.out, color.RedString("session:       invalid, run 'login'"))
	}
	if st.LastReport != nil && st.LastReport.Reason != "" {
		fmt.Fprintf(a.out, "last failure:  %s\n", st.LastReport.Reason)
	}
	return nil
}

func (a *App) Login(ctx context.Context) error {
	token, err := GetSecret(a.in, "API token", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(token)

	online, err := a.auth.Login(ctx, token)
	if err != nil {
		return err
	}
	if online {
		fmt.Fprintln(a.out, "Login successful")
		a.setMode(ModeOnline)
	} else {
		fmt.Fprintln(a.out, "Server unavailable, token saved for later")
		a.setMode(ModeOffline)
	}
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out. Bookmarks and cached articles stay on this device.")
	a.setMode(ModeDisabled)
	return nil
}
