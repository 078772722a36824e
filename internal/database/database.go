package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lowc1012/crm-gate/internal/log"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DriverName maps a configured driver to the name registered with database/sql.
func DriverName(driver string) string {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3", "":
		return "sqlite3"
	case "postgres", "postgresql", "pg":
		return "postgres"
	default:
		return driver
	}
}

// Dialect returns the query dialect for a configured driver.
func Dialect(driver string) (string, error) {
	switch DriverName(driver) {
	case "sqlite3":
		return DialectSQLite, nil
	case "postgres":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s (supported: sqlite3, postgres)", driver)
	}
}

// Open opens and pings a database handle.
// SQLite gets a single connection so concurrent writers never see "database is locked".
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if _, err := Dialect(driver); err != nil {
		return nil, err
	}
	driverName := DriverName(driver)

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driverName == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			log.Logger().Warn("Failed to set SQLite busy timeout", zap.Error(err))
		}
	}

	return db, nil
}

// Rebind rewrites "?" placeholders to "$1", "$2", ... for postgres.
func Rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
