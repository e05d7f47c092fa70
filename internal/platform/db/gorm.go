package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenGorm opens a gorm handle. DSNs prefixed with "sqlite:" use the sqlite
// dialector and ignore schema; anything else is treated as a PostgreSQL DSN
// whose search_path starts at schema. Driver errors are translated so
// duplicate keys surface as gorm.ErrDuplicatedKey.
func OpenGorm(ctx context.Context, dsn, schema string, maxOpen int, logger zerolog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		dialector = sqlite.Open(path)
	} else {
		pgDSN, err := SearchPathDSN(dsn, schema)
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(pgDSN)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(logger),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm db handle: %w", err)
	}
	if dialector.Name() == "sqlite" {
		// sqlite allows a single writer; an in-memory database also exists
		// only on the connection that created it.
		sqlDB.SetMaxOpenConns(1)
	} else if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return gdb, nil
}

// GormProbe builds a health Probe for a gorm handle.
func GormProbe(gdb *gorm.DB) Probe {
	return Probe{
		Driver: "gorm/" + gdb.Dialector.Name(),
		Ping: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
}

type gormWriter struct {
	logger zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn().Str("component", "gorm").Msgf(format, args...)
}

// NewGormLogger routes gorm's slow-query and error output through zerolog.
func NewGormLogger(logger zerolog.Logger) gormlogger.Interface {
	return gormlogger.New(gormWriter{logger: logger}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
