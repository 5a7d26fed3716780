package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dbagent_build_info",
			Help: "Build information of dbagent",
		},
		[]string{"version", "commit"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_runs_total",
			Help: "Total number of answered questions by final status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbagent_run_duration_seconds",
			Help:    "End-to-end duration of a question",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_tasks_total",
			Help: "Total number of agent tasks by agent and status",
		},
		[]string{"agent", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbagent_task_duration_seconds",
			Help:    "Duration of agent tasks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_llm_calls_total",
			Help: "Total number of LLM completion calls",
		},
		[]string{"provider", "status"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbagent_llm_call_duration_seconds",
			Help:    "Duration of LLM completion calls",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_database_queries_total",
			Help: "Total number of statements sent to connected databases",
		},
		[]string{"store", "kind", "status"},
	)

	SchemaCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_schema_cache_total",
			Help: "Schema context cache lookups",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbagent_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	MCPToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	SlackMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_slack_messages_total",
			Help: "Slack messages handled by the bot",
		},
		[]string{"status"},
	)

	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbagent_worker_pool_workers",
			Help: "Current number of worker goroutines",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbagent_eventbus_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"topic"},
	)
)
