package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/prompts"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// SQLAgent answers tasks with a single SQL statement.
type SQLAgent struct {
	model ports.LLM
	store ports.SQLStore
	trim  func(string) string
	log   zerolog.Logger
}

var _ Agent = (*SQLAgent)(nil)

// NewSQLAgent creates a SQL agent. trim shortens the schema text to fit the
// prompt budget; nil leaves it untouched.
func NewSQLAgent(model ports.LLM, store ports.SQLStore, trim func(string) string, log zerolog.Logger) *SQLAgent {
	if trim == nil {
		trim = func(s string) string { return s }
	}
	return &SQLAgent{
		model: model,
		store: store,
		trim:  trim,
		log:   log.With().Str("component", "sql_agent").Logger(),
	}
}

func (a *SQLAgent) Kind() domain.AgentKind { return domain.SQLAgent }

// Run generates SQL for task, executes it, and regenerates with the error
// message up to retries times when execution fails.
func (a *SQLAgent) Run(ctx context.Context, task *domain.Task, schema *domain.SchemaContext, retries int) *domain.TaskResult {
	if a.store == nil {
		return domain.FailedResult(task, fmt.Errorf("%w: SQL_DATABASE_URL is not set", domain.ErrConnectorUnavailable))
	}
	retries = max(retries, 0)

	schemaText := "No SQL schema available"
	if schema != nil {
		schemaText = schema.SQLText()
	}
	messages := []ports.Message{
		{Role: ports.RoleSystem, Content: prompts.Render(prompts.MustLoad(prompts.SQLAgent), map[string]string{
			"SCHEMA":  a.trim(schemaText),
			"DIALECT": a.store.Dialect(),
		})},
		{Role: ports.RoleUser, Content: task.Definition},
	}

	res := &domain.TaskResult{Task: task}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		res.Attempts = attempt + 1

		reply, err := a.model.Complete(ctx, messages)
		if err != nil {
			lastErr = fmt.Errorf("failed to generate SQL: %w", err)
			break
		}

		query, err := llm.ExtractSQL(reply)
		if err == nil {
			res.Query = query
			var out *ports.SQLResult
			out, err = a.store.Execute(ctx, query)
			if err == nil {
				fillSQL(res, out)
				return res
			}
		} else {
			query = reply
		}
		lastErr = err

		if permanent(ctx, err) {
			break
		}
		a.log.Warn().
			Err(err).
			Str("task", task.ID).
			Int("attempt", attempt+1).
			Str("query", query).
			Msg("SQL attempt failed")

		messages = append(messages,
			ports.Message{Role: ports.RoleAssistant, Content: reply},
			ports.Message{Role: ports.RoleUser, Content: prompts.Render(prompts.MustLoad(prompts.SQLRetry), map[string]string{
				"TASK":  task.Definition,
				"QUERY": query,
				"ERROR": err.Error(),
			})},
		)
	}

	res.Status = domain.StatusError
	res.Error = lastErr.Error()
	return res
}

func fillSQL(res *domain.TaskResult, out *ports.SQLResult) {
	res.Status = domain.StatusSuccess
	res.Message = out.Message
	res.Truncated = out.Truncated
	if out.Read {
		res.Operation = "read"
		res.Columns = out.Columns
		res.Rows = out.Rows
		res.Count = len(out.Rows)
		return
	}
	res.Operation = "write"
	res.RowsAffected = out.RowsAffected
	res.Count = int(out.RowsAffected)
}

// permanent reports errors that another generated query cannot fix.
func permanent(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, domain.ErrWriteNotAllowed) ||
		errors.Is(err, domain.ErrEmptyDeleteFilter) ||
		errors.Is(err, domain.ErrNoDatabaseSelected) ||
		errors.Is(err, domain.ErrConnectorUnavailable)
}
