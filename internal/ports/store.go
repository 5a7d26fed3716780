package ports

import (
	"context"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

// SQLResult is the outcome of one SQL statement.
type SQLResult struct {
	Read         bool
	Columns      []string
	Rows         []map[string]any
	RowsAffected int64
	Truncated    bool
	Message      string
}

// SQLStore is a relational database the SQL agent can query.
type SQLStore interface {
	// Dialect names the SQL flavour ("sqlite", "postgres", ...) for prompts.
	Dialect() string
	Schema(ctx context.Context) (*domain.SQLSchema, error)
	Execute(ctx context.Context, query string) (*SQLResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// DocumentResult is the outcome of one QuerySpec.
type DocumentResult struct {
	Operation string
	Rows      []map[string]any
	Count     int
	Message   string
	Data      map[string]any
}

// DocumentStore is a document database the NoSQL agent can query.
type DocumentStore interface {
	CurrentDatabase() string
	UseDatabase(ctx context.Context, name string) error
	ListDatabases(ctx context.Context) ([]string, error)
	Schema(ctx context.Context) (*domain.NoSQLSchema, error)
	Execute(ctx context.Context, spec *domain.QuerySpec) (*DocumentResult, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// SchemaSource provides the combined schema context.
type SchemaSource interface {
	Collect(ctx context.Context) (*domain.SchemaContext, error)
}

// RunStore persists finished runs.
type RunStore interface {
	Record(ctx context.Context, resp *domain.FinalResponse) error
	List(ctx context.Context, limit int) ([]RunSummary, error)
	Get(ctx context.Context, id string) (*domain.FinalResponse, error)
	Close() error
}

// RunSummary is a row of the run history.
type RunSummary struct {
	ID         string `json:"id"`
	Question   string `json:"question"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}
