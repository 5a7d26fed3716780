package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/formatter"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
)

// QuestionInput is the argument of the question-taking tools.
type QuestionInput struct {
	Question string `json:"question" jsonschema:"the question about the data, in plain language"`
}

// AskOutput is the result of ask_database.
type AskOutput struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Answer string `json:"answer,omitempty"`
	Report string `json:"report"`
	Error  string `json:"error,omitempty"`
}

// PlanTask is one task of a plan_query result.
type PlanTask struct {
	ID           string   `json:"id"`
	Agent        string   `json:"agent"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies,omitempty"`
	Definition   string   `json:"definition"`
	Purpose      string   `json:"purpose,omitempty"`
}

// PlanOutput is the result of plan_query.
type PlanOutput struct {
	Tasks      []PlanTask `json:"tasks"`
	RetryCount int        `json:"retry_count"`
}

// SchemaInput takes no arguments.
type SchemaInput struct{}

// SchemaOutput is the result of describe_schema.
type SchemaOutput struct {
	SQL   string `json:"sql"`
	NoSQL string `json:"nosql"`
}

func (s *Server) newMCPServer() (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{Name: "dbagent", Version: s.cfg.Version}, nil)

	if err := addTool(server, "ask_database", `
		Answer a question using the connected SQL and MongoDB databases.
		The question is planned into database tasks, each task generates and runs a query,
		and the results are merged into one report. Prefer one complete question over several small ones.
	`, s.askDatabase); err != nil {
		return nil, err
	}
	if err := addTool(server, "plan_query", `
		Show how a question would be split into database tasks without running anything.
	`, s.planQuery); err != nil {
		return nil, err
	}
	if err := addTool(server, "describe_schema", `
		Describe the tables of the SQL database and the collections of the MongoDB database.
		Consult it before asking about unfamiliar data.
	`, s.describeSchema); err != nil {
		return nil, err
	}
	return server, nil
}

// addTool registers a typed tool with generated schemas and call metrics.
func addTool[In, Out any](server *mcp.Server, name, description string, handle func(context.Context, In) (Out, error)) error {
	in, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", name, err)
	}
	out, err := jsonschema.For[Out](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", name, err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  strings.TrimSpace(description),
		InputSchema:  in,
		OutputSchema: out,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, req In) (*mcp.CallToolResult, Out, error) {
		res, err := handle(ctx, req)
		if err != nil {
			metrics.MCPToolCallsTotal.WithLabelValues(name, "error").Inc()
			var zero Out
			return nil, zero, err
		}
		metrics.MCPToolCallsTotal.WithLabelValues(name, "success").Inc()
		return nil, res, nil
	})
	return nil
}

func (s *Server) askDatabase(ctx context.Context, in QuestionInput) (AskOutput, error) {
	s.log.Debug().Str("question", in.Question).Msg("mcp: ask_database")
	resp, err := s.deps.Service.Run(ctx, in.Question)
	if err != nil {
		if resp != nil && resp.Error != "" {
			return AskOutput{}, errors.New(resp.Error)
		}
		return AskOutput{}, err
	}
	var report strings.Builder
	if err := formatter.RenderText(&report, resp, s.cfg.MaxRows); err != nil {
		return AskOutput{}, err
	}
	return AskOutput{
		RunID:  resp.RunID,
		Status: resp.Status,
		Answer: resp.Answer,
		Report: report.String(),
		Error:  resp.Error,
	}, nil
}

func (s *Server) planQuery(ctx context.Context, in QuestionInput) (PlanOutput, error) {
	plan, err := s.deps.Service.Analyze(ctx, in.Question)
	if err != nil {
		return PlanOutput{}, err
	}
	out := PlanOutput{Tasks: make([]PlanTask, 0, len(plan.Tasks)), RetryCount: plan.Context.ErrorHandling.RetryCount}
	for _, t := range plan.Tasks {
		out.Tasks = append(out.Tasks, PlanTask{
			ID:           t.ID,
			Agent:        string(t.Agent),
			Priority:     t.Priority,
			Dependencies: t.Dependencies,
			Definition:   t.Definition,
			Purpose:      t.Purpose,
		})
	}
	return out, nil
}

func (s *Server) describeSchema(ctx context.Context, _ SchemaInput) (SchemaOutput, error) {
	sc, err := s.deps.Service.Schema(ctx)
	if err != nil {
		return SchemaOutput{}, err
	}
	return SchemaOutput{SQL: sc.SQLText(), NoSQL: sc.NoSQLText()}, nil
}
