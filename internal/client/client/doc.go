// Package client contains the client-side building blocks that talk to the
// outside world: the remote bookmark service and the local database.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface) for the
//     remote bookmark service: ListChangedSince, FetchContent, PushProgress
//     and Ping.
//  2. A concrete HTTP/JSON implementation (see HTTPClient) that attaches the
//     bearer token, retries transient failures with capped exponential
//     backoff, honors Retry-After, and maps HTTP statuses to sentinel errors.
//  3. Local persistence bootstrap (InitDatabase), opening SQLite and applying
//     the embedded goose migrations.
//
// # Error Handling
//
// Conditions are exposed as sentinel errors matched with errors.Is:
// ErrUnavailable (network), ErrRateLimited, ErrUnauthorized (auth),
// ErrConflict and common.ErrNotFound. A *RateLimitedError carries the
// server-supplied delay.
//
// All operations accept context.Context and honor cancellation. HTTPClient is
// safe for concurrent use.
package client
