package ports

import (
	"context"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

// QueryService answers natural-language questions about the connected
// databases. The HTTP, MCP and Slack transports depend on it.
type QueryService interface {
	Run(ctx context.Context, question string) (*domain.FinalResponse, error)
	RunWithHistory(ctx context.Context, question string, history []Message) (*domain.FinalResponse, error)
	Analyze(ctx context.Context, question string) (*domain.Plan, error)
	Schema(ctx context.Context) (*domain.SchemaContext, error)
}
