package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/readkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/cacheentries"
	"github.com/dmitrijs2005/readkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/readkeeper/internal/dbx"

	_ "modernc.org/sqlite"
)

// Repositories bundles the database handle with repositories bound to it.
type Repositories struct {
	DB           *sql.DB
	Metadata     metadata.Repository
	CacheEntries cacheentries.Repository
}

func (r *Repositories) Close() error {
	return r.DB.Close()
}

// InitDatabase opens the SQLite file at dsn and applies migrations.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := dbx.OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	return &Repositories{
		DB:           db,
		Metadata:     metadata.NewSQLiteRepository(db),
		CacheEntries: cacheentries.NewSQLiteRepository(db),
	}, nil
}
