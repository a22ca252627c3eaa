package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-webhooks/core"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// RepositoryFactory builds the SQL backed stores from a bun handle.
type RepositoryFactory struct {
	db *bun.DB

	watermarkStore *WatermarkStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (*RepositoryFactory, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.watermarkStore != nil {
		return f, nil
	}
	store, err := NewWatermarkStore(f.db)
	if err != nil {
		return nil, err
	}
	f.watermarkStore = store
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) WatermarkStore() core.WatermarkStore {
	if f == nil || f.watermarkStore == nil {
		return nil
	}
	return f.watermarkStore
}

// OpenDB opens a bun handle for the postgres or sqlite3 driver.
func OpenDB(driver string, dsn string) (*bun.DB, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}
	switch driver {
	case DriverPostgres, "pg", "postgresql":
		sqlDB, err := sql.Open(DriverPostgres, dsn)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	case DriverSQLite, "sqlite":
		sqlDB, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
