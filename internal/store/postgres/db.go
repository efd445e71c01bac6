package postgres

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

const (
	// maxStatementTimeoutMS caps the server-side statement timeout at one
	// hour.
	maxStatementTimeoutMS = 3_600_000

	// DefaultQueryTimeout bounds individual queries so runaway SQL cannot
	// hold pool connections indefinitely.
	DefaultQueryTimeout = 30 * time.Second

	defaultConnIdleTime = 2 * time.Minute
)

// DB wraps the sql pool behind the drive log repositories.
type DB struct {
	*sql.DB
}

// Config carries the pool settings for the archive connection. The drive
// log is written by one background flusher and read by the admin API and
// the reconciliation sweep, so the pool stays small.
type Config struct {
	URL                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	StatementTimeoutMS int
}

func (c Config) validate() error {
	if c.StatementTimeoutMS < 0 || c.StatementTimeoutMS > maxStatementTimeoutMS {
		return fmt.Errorf("statement timeout %dms outside [0, %d]", c.StatementTimeoutMS, maxStatementTimeoutMS)
	}
	return nil
}

// New opens the archive pool and verifies the server is reachable.
func New(cfg Config) (*DB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", connString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	idle := cfg.ConnMaxIdleTime
	if idle <= 0 {
		idle = defaultConnIdleTime
	}
	db.SetConnMaxIdleTime(idle)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &DB{db}, nil
}

// connString rewrites URL-form DSNs so every pooled connection carries the
// server-side statement timeout, not just one session. Key/value DSNs pass
// through untouched.
func connString(cfg Config) string {
	if cfg.StatementTimeoutMS <= 0 {
		return cfg.URL
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return cfg.URL
	}

	q := u.Query()
	q.Set("options", "-c statement_timeout="+strconv.Itoa(cfg.StatementTimeoutMS))
	u.RawQuery = q.Encode()
	return u.String()
}

func (db *DB) Close() error {
	return db.DB.Close()
}
