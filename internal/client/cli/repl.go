package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	List(ctx context.Context, args []string) error
	Read(ctx context.Context, args []string) error
	Scroll(ctx context.Context, args []string) error
	Progress(ctx context.Context, args []string) error
	Done(ctx context.Context, args []string) error
	Sync(ctx context.Context, full bool) error
	Status(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

const helpText = `Available commands:
  (l)ist [all|archived] [#tag]   list bookmarks, cached ones marked with *
  read <id>                      show the cached article
  scroll <id> <top> <height> <viewport>
                                 record a scroll position
  progress <id> <percent>        set read progress
  done <id>                      mark as read
  sync | fullsync                synchronize with the server
  status                         show sync and cache state
  login | logout                 store or forget the API token
  exit | quit                    leave the program`

// errUsage is returned by handlers for malformed arguments.
var errUsage = errors.New("usage")

// runREPL reads commands line by line from in and dispatches them to a.
// Handler errors are printed and the loop goes on. The loop exits on EOF,
// on "exit"/"quit" or when ctx is done.
func runREPL(ctx context.Context, a execIface, promptFn func() string, in *bufio.Reader, out io.Writer) {
	for ctx.Err() == nil {
		fmt.Fprint(out, promptFn())
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			fmt.Fprintln(out, helpText)
			continue
		case "exit", "quit":
			fmt.Fprintln(out, "Bye!")
			return
		}

		var cmdErr error
		switch cmd {
		case "l", "list":
			cmdErr = a.List(ctx, args)
		case "read":
			cmdErr = a.Read(ctx, args)
		case "scroll":
			cmdErr = a.Scroll(ctx, args)
		case "progress":
			cmdErr = a.Progress(ctx, args)
		case "done":
			cmdErr = a.Done(ctx, args)
		case "sync":
			cmdErr = a.Sync(ctx, false)
		case "fullsync":
			cmdErr = a.Sync(ctx, true)
		case "status":
			cmdErr = a.Status(ctx)
		case "login":
			cmdErr = a.Login(ctx)
		case "logout":
			cmdErr = a.Logout(ctx)
		default:
			fmt.Fprintln(out, "Unknown command:", cmd)
		}

		if cmdErr != nil {
			fmt.Fprintln(out, color.RedString("error: %v", cmdErr))
		}
	}
}
