package sqlconn

import (
	"fmt"
	"strings"
)

// Dialects understood by the connector.
const (
	DialectSQLite     = "sqlite"
	DialectPostgres   = "postgres"
	DialectClickHouse = "clickhouse"
	DialectDuckDB     = "duckdb"
)

// target is a resolved database/sql driver name and DSN.
type target struct {
	driver  string
	dsn     string
	dialect string
}

// resolve maps a SQL_DATABASE_URL to a driver. SQLite URLs follow the
// SQLAlchemy convention: sqlite:///rel.db is relative, sqlite:////abs.db is
// absolute.
func resolve(url string) (target, error) {
	url = strings.TrimSpace(url)
	lower := strings.ToLower(url)

	switch {
	case url == "":
		return target{}, fmt.Errorf("empty database url")

	case strings.HasPrefix(lower, "sqlite:"):
		path := strings.TrimPrefix(url[len("sqlite:"):], "//")
		path = strings.TrimPrefix(path, "/")
		if path == "" || path == ":memory:" {
			return target{driver: "libsql", dsn: "file::memory:", dialect: DialectSQLite}, nil
		}
		return target{driver: "libsql", dsn: "file:" + path, dialect: DialectSQLite}, nil

	case strings.HasPrefix(lower, "file:"),
		strings.HasPrefix(lower, "libsql://"),
		strings.HasPrefix(lower, "http://"),
		strings.HasPrefix(lower, "https://"):
		return target{driver: "libsql", dsn: url, dialect: DialectSQLite}, nil

	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return target{driver: "pgx", dsn: url, dialect: DialectPostgres}, nil

	case strings.HasPrefix(lower, "clickhouse://"):
		return target{driver: "clickhouse", dsn: url, dialect: DialectClickHouse}, nil

	case strings.HasPrefix(lower, "duckdb:"):
		path := strings.TrimPrefix(url[len("duckdb:"):], "//")
		if path == ":memory:" {
			path = ""
		}
		return target{driver: "duckdb", dsn: path, dialect: DialectDuckDB}, nil

	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return target{driver: "libsql", dsn: "file:" + url, dialect: DialectSQLite}, nil
	}

	return target{}, fmt.Errorf("unsupported database url scheme: %s", schemeOf(url))
}

func schemeOf(url string) string {
	if i := strings.Index(url, ":"); i > 0 {
		return url[:i]
	}
	return url
}
