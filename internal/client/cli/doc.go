// Package cli provides the interactive readkeeper shell.
//
// The shell lists bookmarks with their offline availability, renders cached
// articles in the terminal, records reading progress and triggers syncs.
// A background watcher switches between online and offline mode; the sync
// engine and the version guard report through SessionExpired and
// PromptReload.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
