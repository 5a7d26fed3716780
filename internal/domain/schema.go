package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Column describes one column of a relational table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Table describes a relational table. DDL is the database's own CREATE
// statement when it can report one.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns,omitempty"`
	DDL     string   `json:"ddl,omitempty"`
}

// SQLSchema is the relational side of the schema context.
type SQLSchema struct {
	Dialect string  `json:"dialect"`
	Tables  []Table `json:"tables"`
}

// String renders the schema as DDL, one statement per table.
func (s SQLSchema) String() string {
	var b strings.Builder
	for i, t := range s.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		if t.DDL != "" {
			b.WriteString(strings.TrimSpace(t.DDL))
			continue
		}
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", t.Name)
		for j, c := range t.Columns {
			fmt.Fprintf(&b, "  %s %s", c.Name, c.Type)
			if !c.Nullable {
				b.WriteString(" NOT NULL")
			}
			if j < len(t.Columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(");")
	}
	return b.String()
}

// TableNames lists table names in schema order.
func (s SQLSchema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// NoSQLSchema maps each collection to its inferred field types.
type NoSQLSchema struct {
	Database    string                       `json:"database"`
	Collections map[string]map[string]string `json:"collections"`
}

// CollectionNames lists collections alphabetically.
func (s NoSQLSchema) CollectionNames() []string {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Fields lists a collection's field names alphabetically.
func (s NoSQLSchema) Fields(collection string) []string {
	fields := make([]string, 0, len(s.Collections[collection]))
	for f := range s.Collections[collection] {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	return fields
}

// String renders the collections as indented JSON with sorted keys.
func (s NoSQLSchema) String() string {
	if len(s.Collections) == 0 {
		return "{}"
	}
	b, err := json.Marshal(s.Collections, json.Deterministic(true), jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Sprintf("%v", s.Collections)
	}
	return string(b)
}

// SchemaContext is everything the planner and agents know about the
// connected databases.
type SchemaContext struct {
	SQL         *SQLSchema   `json:"sql,omitempty"`
	NoSQL       *NoSQLSchema `json:"nosql,omitempty"`
	SQLError    string       `json:"sql_error,omitempty"`
	NoSQLError  string       `json:"nosql_error,omitempty"`
	CollectedAt time.Time    `json:"collected_at"`
}

// SQLText renders the relational schema, or a placeholder when unavailable.
func (c SchemaContext) SQLText() string {
	switch {
	case c.SQL != nil && len(c.SQL.Tables) > 0:
		return c.SQL.String()
	case c.SQLError != "":
		return "Error retrieving SQL schema: " + c.SQLError
	}
	return "No SQL schema available"
}

// NoSQLText renders the document schema, or a placeholder when unavailable.
func (c SchemaContext) NoSQLText() string {
	switch {
	case c.NoSQL != nil && len(c.NoSQL.Collections) > 0:
		return c.NoSQL.String()
	case c.NoSQLError != "":
		return "Error retrieving NoSQL schemas: " + c.NoSQLError
	}
	return "No NoSQL schema available"
}

// String renders both sides in the layout used by planner prompts.
func (c SchemaContext) String() string {
	return "SQL Schema:\n" + c.SQLText() + "\n\nNoSQL Schema:\n" + c.NoSQLText()
}
