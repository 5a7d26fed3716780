package sqlconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cenkalti/backoff/v5"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

const defaultMaxRows = 1000

// Options tunes a Store.
type Options struct {
	AllowWrites     bool
	MaxRows         int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectRetries  uint
}

// OptionsFromConfig copies the connector settings out of cfg.
func OptionsFromConfig(cfg config.SQLConfig) Options {
	return Options{
		AllowWrites:     cfg.AllowWrites,
		MaxRows:         cfg.MaxRows,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectRetries:  cfg.ConnectRetries,
	}
}

// Store is a relational database reachable through database/sql.
type Store struct {
	db      *sql.DB
	dialect string
	opts    Options
	log     zerolog.Logger
}

var _ ports.SQLStore = (*Store)(nil)

// Open connects to the database named by url and waits until it answers a
// ping, retrying with exponential backoff.
func Open(ctx context.Context, url string, opts Options, log zerolog.Logger) (*Store, error) {
	t, err := resolve(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(t.driver, t.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", t.dialect, err)
	}

	s := New(db, t.dialect, opts, log)
	if t.dialect == DialectSQLite || t.dialect == DialectDuckDB {
		// Embedded engines serialise writers; one connection avoids lock errors.
		db.SetMaxOpenConns(1)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := db.PingContext(ctx); err != nil {
			s.log.Debug().Err(err).Msg("database not ready")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(opts.ConnectRetries+1))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConnectorUnavailable, utils.RedactURL(url), err)
	}

	s.log.Info().Str("url", utils.RedactURL(url)).Msg("connected to SQL database")
	return s, nil
}

// New wraps an already opened database.
func New(db *sql.DB, dialect string, opts Options, log zerolog.Logger) *Store {
	if opts.MaxRows <= 0 {
		opts.MaxRows = defaultMaxRows
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return &Store{
		db:      db,
		dialect: dialect,
		opts:    opts,
		log:     log.With().Str("component", "sql_connector").Str("dialect", dialect).Logger(),
	}
}

func (s *Store) Dialect() string { return s.dialect }

// DB exposes the handle for migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Execute runs one statement. Reads return rows; writes run in a
// transaction and report the affected row count.
func (s *Store) Execute(ctx context.Context, query string) (*ports.SQLResult, error) {
	query = trimStatement(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	if IsReadQuery(query) {
		res, err := s.read(ctx, query)
		observe("read", err)
		return res, err
	}

	if !s.opts.AllowWrites {
		observe("write", domain.ErrWriteNotAllowed)
		return nil, fmt.Errorf("%w: %s statements are disabled", domain.ErrWriteNotAllowed, firstKeyword(query))
	}
	res, err := s.write(ctx, query)
	observe("write", err)
	return res, err
}

func observe(kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.QueriesTotal.WithLabelValues("sql", kind, status).Inc()
}

func (s *Store) read(ctx context.Context, query string) (*ports.SQLResult, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &ports.SQLResult{Read: true, Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		if len(result.Rows) >= s.opts.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	s.log.Debug().Int("rows", len(result.Rows)).Bool("truncated", result.Truncated).Msg("query returned")
	return result, nil
}

func (s *Store) write(ctx context.Context, query string) (*ports.SQLResult, error) {
	var (
		res sql.Result
		err error
	)
	if s.dialect == DialectClickHouse {
		// ClickHouse has no transactional DML over database/sql.
		res, err = s.db.ExecContext(ctx, query)
	} else {
		res, err = s.execTx(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	return &ports.SQLResult{
		RowsAffected: n,
		Message:      fmt.Sprintf("Query executed successfully. Rows affected: %d", n),
	}, nil
}

func (s *Store) execTx(ctx context.Context, query string) (sql.Result, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn().Err(rbErr).Msg("rollback failed")
		}
		return nil, fmt.Errorf("statement failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	return res, nil
}

// normalize turns driver values into JSON-friendly ones.
func normalize(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return val
	}
}
