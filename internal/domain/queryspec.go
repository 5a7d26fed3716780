package domain

import (
	"bytes"
	"fmt"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Operation is the document-store operation a QuerySpec requests.
type Operation string

const (
	OpFind        Operation = "find"
	OpAggregate   Operation = "aggregate"
	OpInsert      Operation = "insert"
	OpUpdate      Operation = "update"
	OpDelete      Operation = "delete"
	OpDBOperation Operation = "db_operation"
)

// Database management actions carried by OpDBOperation specs.
const (
	ActionUseDB            = "use_db"
	ActionListDBs          = "list_dbs"
	ActionListCollections  = "list_collections"
	ActionCreateCollection = "create_collection"
	ActionDropCollection   = "drop_collection"
	ActionGetSchema        = "get_schema"
)

var validActions = map[string]bool{
	ActionUseDB:            true,
	ActionListDBs:          true,
	ActionListCollections:  true,
	ActionCreateCollection: true,
	ActionDropCollection:   true,
	ActionGetSchema:        true,
}

// QuerySpec is the JSON document the NoSQL agent asks the LLM to produce.
// Structured members stay raw so the store can decode them with key order
// intact.
type QuerySpec struct {
	Collection string         `json:"collection,omitempty"`
	Operation  Operation      `json:"operation"`
	Action     string         `json:"action,omitempty"`
	Database   string         `json:"database,omitempty"`
	Query      jsontext.Value `json:"query,omitzero"`
	Pipeline   jsontext.Value `json:"pipeline,omitzero"`
	Document   jsontext.Value `json:"document,omitzero"`
	Update     jsontext.Value `json:"update,omitzero"`
	Filter     jsontext.Value `json:"filter,omitzero"`
	Sort       jsontext.Value `json:"sort,omitzero"`
	Projection jsontext.Value `json:"projection,omitzero"`
	Limit      int64          `json:"limit,omitempty"`
	Skip       int64          `json:"skip,omitempty"`
	Upsert     bool           `json:"upsert,omitempty"`
	UpdateOne  bool           `json:"update_one,omitempty"`
	DeleteOne  bool           `json:"delete_one,omitempty"`
}

// ParseQuerySpec decodes and validates a query spec.
func ParseQuerySpec(data []byte) (*QuerySpec, error) {
	var spec QuerySpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuerySpec, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks that the fields each operation depends on are present.
func (s *QuerySpec) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidQuerySpec, fmt.Sprintf(format, args...))
	}

	switch s.Operation {
	case "":
		return invalid("missing required field: operation")
	case OpDBOperation:
		if s.Action == "" {
			return invalid("db_operation requires 'action' field")
		}
		if !validActions[s.Action] {
			return invalid("unsupported database operation: %s", s.Action)
		}
		if s.Action == ActionUseDB && s.Database == "" {
			return invalid("use_db requires 'database' field")
		}
		if (s.Action == ActionCreateCollection || s.Action == ActionDropCollection) && s.Collection == "" {
			return invalid("%s requires 'collection' field", s.Action)
		}
		return nil
	case OpFind, OpAggregate, OpInsert, OpUpdate, OpDelete:
	default:
		return invalid("invalid operation: %s", s.Operation)
	}

	if s.Collection == "" {
		return invalid("missing required field: collection")
	}

	switch s.Operation {
	case OpFind:
		if !present(s.Query) {
			return invalid("find operation requires 'query' field")
		}
	case OpAggregate:
		if !present(s.Pipeline) {
			return invalid("aggregate operation requires 'pipeline' field")
		}
	case OpInsert:
		if !present(s.Document) {
			return invalid("insert operation requires 'document' field")
		}
	case OpUpdate:
		if !present(s.Filter) {
			return invalid("update operation requires 'filter' field")
		}
		if !present(s.Update) {
			return invalid("update operation requires 'update' field")
		}
	case OpDelete:
		if !present(s.Filter) {
			return invalid("delete operation requires 'filter' field")
		}
	}
	return nil
}

// IsWrite reports whether executing the spec would modify data.
func (s *QuerySpec) IsWrite() bool {
	switch s.Operation {
	case OpInsert, OpUpdate, OpDelete:
		return true
	case OpAggregate:
		return pipelineWrites(s.Pipeline)
	case OpDBOperation:
		return s.Action == ActionCreateCollection || s.Action == ActionDropCollection
	}
	return false
}

// String renders the spec as compact JSON.
func (s *QuerySpec) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%s %s", s.Operation, s.Collection)
	}
	return string(b)
}

// pipelineWrites reports whether any top-level stage is $out or $merge.
// Pipelines that are not an array of stage documents are left to the store,
// which rejects them.
func pipelineWrites(pipeline jsontext.Value) bool {
	if !present(pipeline) {
		return false
	}
	var stages []map[string]jsontext.Value
	if err := json.Unmarshal(pipeline, &stages); err != nil {
		return false
	}
	for _, stage := range stages {
		for op := range stage {
			if op == "$out" || op == "$merge" {
				return true
			}
		}
	}
	return false
}

func present(v jsontext.Value) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}
