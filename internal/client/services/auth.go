// Package services contains the application services used by the shell.
// This file defines the authentication service: storing the API token,
// restoring it on start and dropping it on logout.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/readkeeper/internal/client/client"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"
)

// ErrEmptyToken is returned by Login for a blank token.
var ErrEmptyToken = errors.New("token is empty")

// SessionResetter re-enables syncing after a successful login.
type SessionResetter interface {
	ResetSession()
}

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Login: verify the token against the server when reachable and persist it.
//     An unreachable server does not fail the login; online reports the outcome.
//   - Logout: forget the token locally. Bookmarks and cached content stay.
//   - Restore: load a persisted token into the remote client on start.
//   - Refresh: pick up a login or logout made by another process sharing the
//     database. A changed token is loaded and the session re-enabled.
//   - Ping: check server liveness.
type AuthService interface {
	Login(ctx context.Context, token []byte) (online bool, err error)
	Logout(ctx context.Context) error
	Restore(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (changed bool, err error)
	Ping(ctx context.Context) error
}

type authService struct {
	client  client.Client
	db      *sql.DB
	session SessionResetter

	mu    sync.Mutex
	token string
}

func NewAuthService(c client.Client, db *sql.DB, s SessionResetter) AuthService {
	return &authService{client: c, db: db, session: s}
}

func (a *authService) Login(ctx context.Context, raw []byte) (bool, error) {
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return false, ErrEmptyToken
	}

	a.useToken(token)
	online := true
	if err := a.client.Ping(ctx); err != nil {
		switch {
		case errors.Is(err, client.ErrUnavailable):
			online = false
		default:
			a.useToken("")
			return false, fmt.Errorf("login: %w", err)
		}
	}

	err := dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return metadata.NewSQLiteRepository(tx).SetString(ctx, metadata.KeyAuthToken, token)
	})
	if err != nil {
		return false, fmt.Errorf("save token: %w", err)
	}

	a.session.ResetSession()
	return online, nil
}

func (a *authService) Logout(ctx context.Context) error {
	if err := metadata.NewSQLiteRepository(a.db).Delete(ctx, metadata.KeyAuthToken); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.useToken("")
	return nil
}

func (a *authService) Restore(ctx context.Context) (bool, error) {
	token, err := metadata.NewSQLiteRepository(a.db).GetString(ctx, metadata.KeyAuthToken)
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}
	if token == "" {
		return false, nil
	}
	a.useToken(token)
	return true, nil
}

func (a *authService) Refresh(ctx context.Context) (bool, error) {
	stored, err := metadata.NewSQLiteRepository(a.db).GetString(ctx, metadata.KeyAuthToken)
	if err != nil {
		return false, fmt.Errorf("load token: %w", err)
	}

	a.mu.Lock()
	changed := stored != a.token
	a.mu.Unlock()
	if !changed {
		return false, nil
	}

	a.useToken(stored)
	if stored != "" {
		a.session.ResetSession()
	}
	return true, nil
}

func (a *authService) useToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
	a.client.SetToken(token)
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}
