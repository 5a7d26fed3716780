package sqlconn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

const (
	sqliteSchemaQuery = `SELECT name, sql FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name <> 'goose_db_version' AND sql IS NOT NULL
ORDER BY name`

	infoSchemaQuery = `SELECT table_schema, table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema') AND table_name <> 'goose_db_version'
ORDER BY table_schema, table_name, ordinal_position`

	clickhouseSchemaQuery = `SELECT table, name, type FROM system.columns
WHERE database = currentDatabase()
ORDER BY table, position`
)

// Schema reports every user table. SQLite tables carry their CREATE
// statement; other engines report columns.
func (s *Store) Schema(ctx context.Context) (*domain.SQLSchema, error) {
	var (
		tables []domain.Table
		err    error
	)
	switch s.dialect {
	case DialectSQLite:
		tables, err = s.sqliteTables(ctx)
	case DialectPostgres, DialectDuckDB:
		tables, err = s.infoSchemaTables(ctx)
	case DialectClickHouse:
		tables, err = s.clickhouseTables(ctx)
	default:
		err = fmt.Errorf("schema not supported for dialect %q", s.dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving SQL schema: %w", err)
	}
	return &domain.SQLSchema{Dialect: s.dialect, Tables: tables}, nil
}

func (s *Store) sqliteTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSchemaQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []domain.Table
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.Name, &t.DDL); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		cols, err := s.sqliteColumns(ctx, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].Columns = cols
	}
	return tables, nil
}

func (s *Store) sqliteColumns(ctx context.Context, table string) ([]domain.Column, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, type, \"notnull\" FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []domain.Column
	for rows.Next() {
		var (
			c       domain.Column
			notNull int64
		)
		if err := rows.Scan(&c.Name, &c.Type, &notNull); err != nil {
			return nil, err
		}
		c.Nullable = notNull == 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *Store) infoSchemaTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := s.db.QueryContext(ctx, infoSchemaQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return groupColumns(rows, func() (string, domain.Column, error) {
		var schema, table, nullable string
		var c domain.Column
		if err := rows.Scan(&schema, &table, &c.Name, &c.Type, &nullable); err != nil {
			return "", c, err
		}
		c.Nullable = nullable == "YES"
		if schema != "public" && schema != "main" {
			table = schema + "." + table
		}
		return table, c, nil
	})
}

func (s *Store) clickhouseTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := s.db.QueryContext(ctx, clickhouseSchemaQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return groupColumns(rows, func() (string, domain.Column, error) {
		var table string
		var c domain.Column
		if err := rows.Scan(&table, &c.Name, &c.Type); err != nil {
			return "", c, err
		}
		c.Nullable = len(c.Type) > 9 && c.Type[:9] == "Nullable("
		return table, c, nil
	})
}

// groupColumns folds ordered (table, column) rows into tables.
func groupColumns(rows *sql.Rows, scan func() (string, domain.Column, error)) ([]domain.Table, error) {
	var tables []domain.Table
	for rows.Next() {
		name, col, err := scan()
		if err != nil {
			return nil, err
		}
		if n := len(tables); n == 0 || tables[n-1].Name != name {
			tables = append(tables, domain.Table{Name: name})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, col)
	}
	return tables, rows.Err()
}
