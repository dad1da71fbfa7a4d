package punkdb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/arkpunks/punkd/punkdb/sqlite"
	_ "modernc.org/sqlite"
)

//go:embed sqlite/migrations/*.up.sql
var sqlSchemas embed.FS

// SqliteConfig holds all the config arguments needed to interact with our
// sqlite DB.
type SqliteConfig struct {
	// CreateTables if true, then all the tables will be created on start
	// up if they don't already exist.
	CreateTables bool

	// DatabaseFileName is the full file path where the database file can
	// be found.
	DatabaseFileName string
}

// SqliteStore is a sqlite3 based database for the punk daemon.
type SqliteStore struct {
	cfg *SqliteConfig

	*sql.DB

	*sqlite.Queries
}

// NewSqliteStore attempts to open a new sqlite database based on the passed
// config.
func NewSqliteStore(cfg *SqliteConfig) (*SqliteStore, error) {
	db, err := sql.Open("sqlite", cfg.DatabaseFileName)
	if err != nil {
		return nil, err
	}

	// The registry relies on foreign keys and WAL for its concurrent
	// request handlers; sqlite leaves both off unless asked.
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("unable to set pragma: %w", err)
		}
	}

	if cfg.CreateTables {
		// Now that the database is open, populate the database with
		// our set of schemas based on our embedded in-memory file
		// system.
		err := fs.WalkDir(sqlSchemas, "sqlite/migrations",
			func(path string, d fs.DirEntry, err error) error {

				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}

				schema, err := sqlSchemas.ReadFile(path)
				if err != nil {
					return err
				}

				if _, err := db.Exec(string(schema)); err != nil {
					return fmt.Errorf("unable to create "+
						"schema: %v", err)
				}
				return nil
			},
		)
		if err != nil {
			return nil, err
		}
	}

	queries := sqlite.New(db)

	return &SqliteStore{
		DB:      db,
		cfg:     cfg,
		Queries: queries,
	}, nil
}

// BeginTx wraps the normal sql specific BeginTx method with the TxOptions
// interface. This interface is then mapped to the concrete sql tx options
// struct.
func (s *SqliteStore) BeginTx(ctx context.Context, opts TxOptions) (Tx,
	error) {

	sqlOptions := sql.TxOptions{
		ReadOnly: opts.ReadOnly(),
	}
	return s.DB.BeginTx(ctx, &sqlOptions)
}

// NewBatchedRegistryStore wraps the sqlite store in the transaction executor
// the Registry operates on.
func NewBatchedRegistryStore(db *SqliteStore) BatchedRegistryStore {
	return NewTransactionExecutor[RegistryStore, TxOptions](
		db, func(tx Tx) RegistryStore {
			return db.WithTx(tx.(*sql.Tx))
		},
	)
}

// NewBatchedMarketStore wraps the sqlite store in the transaction executor
// the MarketplaceStore operates on.
func NewBatchedMarketStore(db *SqliteStore) BatchedMarketStore {
	return NewTransactionExecutor[MarketStore, TxOptions](
		db, func(tx Tx) MarketStore {
			return db.WithTx(tx.(*sql.Tx))
		},
	)
}
