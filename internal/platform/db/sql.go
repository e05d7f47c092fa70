package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// SearchPathDSN puts schema ahead of public on the search_path of a
// PostgreSQL DSN, in URL or keyword/value form. A search_path already present
// in the DSN is kept as is.
func SearchPathDSN(dsn, schema string) (string, error) {
	if schema == "" {
		return dsn, nil
	}
	if err := validSchema(schema); err != nil {
		return "", err
	}
	path := schema + ",public"

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		q := u.Query()
		if q.Get("search_path") != "" {
			return dsn, nil
		}
		q.Set("search_path", path)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	for _, kv := range strings.Fields(dsn) {
		if strings.HasPrefix(kv, "search_path=") {
			return dsn, nil
		}
	}
	return strings.TrimSpace(dsn + " search_path=" + path), nil
}

// OpenSQL opens a database/sql handle backed by the lib/pq driver. Unqualified
// names resolve in schema first, as they do on pools from NewPool.
func OpenSQL(ctx context.Context, dsn, schema string, maxOpen, maxIdle int) (*sql.DB, error) {
	dsn, err := SearchPathDSN(dsn, schema)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return sqlDB, nil
}

// SQLProbe builds a health Probe for a database/sql handle.
func SQLProbe(sqlDB *sql.DB, driver string) Probe {
	return Probe{
		Driver: driver,
		Ping:   sqlDB.PingContext,
		Stats:  func() any { return sqlDB.Stats() },
	}
}
