package sqlconn

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var demoMigrations embed.FS

// SeedDemo applies the sales demo schema and data. Already applied
// migrations are skipped, so seeding twice is harmless.
func (s *Store) SeedDemo(ctx context.Context) (int, error) {
	var dialect goose.Dialect
	switch s.dialect {
	case DialectSQLite:
		dialect = goose.DialectSQLite3
	case DialectPostgres:
		dialect = goose.DialectPostgres
	default:
		return 0, fmt.Errorf("demo seed not supported for dialect %q", s.dialect)
	}

	fsys, err := fs.Sub(demoMigrations, "migrations")
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return 0, fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to apply demo migrations: %w", err)
	}
	for _, r := range results {
		s.log.Info().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("applied")
	}
	return len(results), nil
}
