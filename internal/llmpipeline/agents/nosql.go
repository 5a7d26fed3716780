package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/prompts"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// NoSQLAgent answers tasks with a MongoDB query specification.
type NoSQLAgent struct {
	model     ports.LLM
	store     ports.DocumentStore
	trim      func(string) string
	onChanged func()
	log       zerolog.Logger
}

var _ Agent = (*NoSQLAgent)(nil)

// NoSQLOption configures a NoSQLAgent.
type NoSQLOption func(*NoSQLAgent)

// OnDatabaseChanged registers fn to run after an operation that changes the
// selected database or its collections.
func OnDatabaseChanged(fn func()) NoSQLOption {
	return func(a *NoSQLAgent) { a.onChanged = fn }
}

// NewNoSQLAgent creates a NoSQL agent. trim shortens the schema text to fit
// the prompt budget; nil leaves it untouched.
func NewNoSQLAgent(model ports.LLM, store ports.DocumentStore, trim func(string) string, log zerolog.Logger, opts ...NoSQLOption) *NoSQLAgent {
	if trim == nil {
		trim = func(s string) string { return s }
	}
	a := &NoSQLAgent{
		model:     model,
		store:     store,
		trim:      trim,
		onChanged: func() {},
		log:       log.With().Str("component", "nosql_agent").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *NoSQLAgent) Kind() domain.AgentKind { return domain.NoSQLAgent }

// Run generates a query spec for task, executes it, and regenerates with the
// error message up to retries times when parsing or execution fails.
func (a *NoSQLAgent) Run(ctx context.Context, task *domain.Task, schema *domain.SchemaContext, retries int) *domain.TaskResult {
	if a.store == nil {
		return domain.FailedResult(task, fmt.Errorf("%w: NOSQL_DATABASE_URL is not set", domain.ErrConnectorUnavailable))
	}
	retries = max(retries, 0)

	messages := []ports.Message{
		{Role: ports.RoleSystem, Content: a.systemPrompt(schema)},
		{Role: ports.RoleUser, Content: task.Definition},
	}

	res := &domain.TaskResult{Task: task}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		res.Attempts = attempt + 1

		reply, err := a.model.Complete(ctx, messages, ports.WithJSONResponse())
		if err != nil {
			lastErr = fmt.Errorf("failed to generate query: %w", err)
			break
		}

		failed := reply
		spec, err := parseSpec(reply)
		if err == nil {
			res.Query = spec.String()
			failed = res.Query
			var out *ports.DocumentResult
			out, err = a.store.Execute(ctx, spec)
			if err == nil {
				fillDocument(res, out)
				if changesSchema(spec) {
					a.onChanged()
				}
				return res
			}
		}
		lastErr = err

		if permanent(ctx, err) {
			break
		}
		a.log.Warn().
			Err(err).
			Str("task", task.ID).
			Int("attempt", attempt+1).
			Msg("NoSQL attempt failed")

		messages = append(messages,
			ports.Message{Role: ports.RoleAssistant, Content: reply},
			ports.Message{Role: ports.RoleUser, Content: prompts.Render(prompts.MustLoad(prompts.NoSQLRetry), map[string]string{
				"TASK":  task.Definition,
				"QUERY": failed,
				"ERROR": err.Error(),
			})},
		)
	}

	res.Status = domain.StatusError
	res.Error = lastErr.Error()
	return res
}

func (a *NoSQLAgent) systemPrompt(schema *domain.SchemaContext) string {
	database := a.store.CurrentDatabase()
	if database == "" {
		database = "(none selected)"
	}
	collections := "No collections available"
	schemaText := "No NoSQL schema available"
	if schema != nil {
		schemaText = schema.NoSQLText()
		if schema.NoSQL != nil && len(schema.NoSQL.Collections) > 0 {
			var b strings.Builder
			for i, name := range schema.NoSQL.CollectionNames() {
				if i > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "- %s: [%s]", name, strings.Join(schema.NoSQL.Fields(name), ", "))
			}
			collections = b.String()
		}
	}
	return prompts.Render(prompts.MustLoad(prompts.NoSQLAgent), map[string]string{
		"DATABASE":    database,
		"COLLECTIONS": collections,
		"SCHEMA":      a.trim(schemaText),
	})
}

func parseSpec(reply string) (*domain.QuerySpec, error) {
	raw, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	return domain.ParseQuerySpec([]byte(raw))
}

func fillDocument(res *domain.TaskResult, out *ports.DocumentResult) {
	res.Status = domain.StatusSuccess
	res.Operation = out.Operation
	res.Rows = out.Rows
	res.Count = out.Count
	res.Message = out.Message
	res.Data = out.Data
}

// changesSchema reports whether spec may have changed what the schema
// context describes.
func changesSchema(spec *domain.QuerySpec) bool {
	if spec.Operation == domain.OpDBOperation {
		return spec.Action == domain.ActionUseDB ||
			spec.Action == domain.ActionCreateCollection ||
			spec.Action == domain.ActionDropCollection
	}
	return spec.Operation == domain.OpInsert
}
