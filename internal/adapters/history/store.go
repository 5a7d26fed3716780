// Package history keeps a record of answered questions in a local libsql
// database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultListLimit = 20

// Store persists runs in a libsql file.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ ports.RunStore = (*Store)(nil)

// Open creates or opens the history database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, log zerolog.Logger) (*Store, error) {
	if err := utils.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log.With().Str("component", "history").Logger()}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate history database: %w", err)
	}
	for _, r := range results {
		s.log.Debug().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("applied")
	}
	return nil
}

// Record stores resp, replacing any earlier record with the same run ID.
func (s *Store) Record(ctx context.Context, resp *domain.FinalResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	var plan sql.NullString
	if resp.Plan != nil {
		b, err := json.Marshal(resp.Plan)
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		plan = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO runs
(id, question, status, plan_json, response_json, started_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		resp.RunID, resp.Question, resp.Status, plan, string(body),
		resp.StartedAt.UTC().Format(time.RFC3339Nano), resp.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", resp.RunID, err)
	}
	return nil
}

// List returns the most recent runs first.
func (s *Store) List(ctx context.Context, limit int) ([]ports.RunSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, status, started_at, duration_ms
FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []ports.RunSummary{}
	for rows.Next() {
		var r ports.RunSummary
		if err := rows.Scan(&r.ID, &r.Question, &r.Status, &r.StartedAt, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get loads one run by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.FinalResponse, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT response_json FROM runs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	var resp domain.FinalResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
	}
	return &resp, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Nop discards runs. It is used when history is disabled.
type Nop struct{}

var _ ports.RunStore = Nop{}

func (Nop) Record(context.Context, *domain.FinalResponse) error { return nil }

func (Nop) List(context.Context, int) ([]ports.RunSummary, error) {
	return []ports.RunSummary{}, nil
}

func (Nop) Get(_ context.Context, id string) (*domain.FinalResponse, error) {
	return nil, fmt.Errorf("%w: %s (history disabled)", domain.ErrRunNotFound, id)
}

func (Nop) Close() error { return nil }
