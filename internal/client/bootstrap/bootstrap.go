// Package bootstrap builds the client components from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/readkeeper/internal/client/cache"
	"github.com/dmitrijs2005/readkeeper/internal/client/client"
	"github.com/dmitrijs2005/readkeeper/internal/client/config"
	"github.com/dmitrijs2005/readkeeper/internal/client/services"
	"github.com/dmitrijs2005/readkeeper/internal/client/store"
	syncengine "github.com/dmitrijs2005/readkeeper/internal/client/sync"
	"github.com/dmitrijs2005/readkeeper/internal/filex"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
)

// Options carry the pieces that differ between the shell and the worker.
type Options struct {
	// Engine is merged with the configured fetch concurrency.
	Engine syncengine.Options
	// Worker and Guard are passed to the reader service. Both may be nil.
	Worker services.WorkerClient
	Guard  services.VersionChecker
}

// Components is the wired client.
type Components struct {
	Repos  *client.Repositories
	Store  *store.Store
	Cache  *cache.Cache
	Remote *client.HTTPClient
	Engine *syncengine.Engine
	Auth   services.AuthService
	Reader services.ReaderService
}

// newBlobStore is a seam for tests.
var newBlobStore = func(ctx context.Context, cfg *config.Config) (cache.BlobStore, error) {
	switch cfg.CacheBackend {
	case config.BackendS3:
		return cache.NewS3Store(ctx, cfg.S3)
	default:
		return cache.NewFSStore(cfg.BlobDir())
	}
}

// Open creates the data directory, migrates the database and wires every
// component. A stored API token is loaded into the remote client.
func Open(ctx context.Context, cfg *config.Config, l logging.Logger, opts Options) (*Components, error) {
	if _, err := filex.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	repos, err := client.InitDatabase(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	c, err := wire(ctx, cfg, repos, l, opts)
	if err != nil {
		_ = repos.Close()
		return nil, err
	}
	return c, nil
}

func wire(ctx context.Context, cfg *config.Config, repos *client.Repositories, l logging.Logger, opts Options) (*Components, error) {
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cache backend %s: %w", cfg.CacheBackend, err)
	}

	remote, err := client.NewHTTPClient(client.Options{
		BaseURL:       cfg.ServerURL,
		Timeout:       cfg.HTTPTimeout,
		MaxRetries:    uint64(cfg.MaxRetries),
		BaseDelay:     cfg.RetryBaseDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		MaxRetryAfter: cfg.MaxRetryAfter,
	}, l)
	if err != nil {
		return nil, err
	}

	st := store.New(repos.DB, l)
	cc := cache.New(repos.DB, blobs, cache.Options{StaleRetention: cfg.StaleRetention}, l)

	eopts := opts.Engine
	if eopts.FetchConcurrency == 0 {
		eopts.FetchConcurrency = cfg.FetchConcurrency
	}
	engine := syncengine.New(remote, st, cc, repos.DB, eopts, l)

	auth := services.NewAuthService(remote, repos.DB, engine)
	if _, err := auth.Restore(ctx); err != nil {
		return nil, err
	}

	return &Components{
		Repos:  repos,
		Store:  st,
		Cache:  cc,
		Remote: remote,
		Engine: engine,
		Auth:   auth,
		Reader: services.NewReaderService(st, cc, engine, opts.Worker, opts.Guard),
	}, nil
}

// Close releases the database.
func (c *Components) Close() error {
	return c.Repos.Close()
}
