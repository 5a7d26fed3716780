package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/joho/godotenv"

	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

// Config holds all configuration settings for dbagent.
type Config struct {
	System     SystemConfig     `json:"system"`
	LLM        LLMConfig        `json:"llm"`
	SQL        SQLConfig        `json:"sql"`
	NoSQL      NoSQLConfig      `json:"nosql"`
	Context    ContextConfig    `json:"context"`
	Agents     AgentsConfig     `json:"agents"`
	Formatter  FormatterConfig  `json:"formatter"`
	History    HistoryConfig    `json:"history"`
	Server     ServerConfig     `json:"server"`
	Slack      SlackConfig      `json:"slack"`
	WorkerPool WorkerPoolConfig `json:"workerPool"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Schedules  []ScheduleConfig `json:"schedules"`
}

// SystemConfig holds general system settings.
type SystemConfig struct {
	LogLevel  string `json:"logLevel" env:"DBAGENT_LOG_LEVEL"`   // debug, info, warn, error
	LogFormat string `json:"logFormat" env:"DBAGENT_LOG_FORMAT"` // console, json
}

// LLMConfig selects and tunes the completion provider.
type LLMConfig struct {
	Provider       string        `json:"provider" env:"DBAGENT_LLM_PROVIDER"` // openai, anthropic
	Model          string        `json:"model" env:"DBAGENT_LLM_MODEL"`
	Temperature    float64       `json:"temperature" env:"DBAGENT_LLM_TEMPERATURE"`
	MaxTokens      int64         `json:"maxTokens" env:"DBAGENT_LLM_MAX_TOKENS"`
	BaseURL        string        `json:"baseURL" env:"OPENAI_BASE_URL"`
	OpenAIKey      string        `json:"-" env:"OPENAI_API_KEY"`
	AnthropicKey   string        `json:"-" env:"ANTHROPIC_API_KEY"`
	MaxRetries     uint          `json:"maxRetries" env:"DBAGENT_LLM_MAX_RETRIES"`
	RequestTimeout time.Duration `json:"requestTimeout,format:units" env:"DBAGENT_LLM_TIMEOUT"`
}

// SQLConfig configures the relational connector.
type SQLConfig struct {
	URL             string        `json:"-" env:"SQL_DATABASE_URL"`
	AllowWrites     bool          `json:"allowWrites" env:"DBAGENT_SQL_ALLOW_WRITES"`
	MaxRows         int           `json:"maxRows" env:"DBAGENT_SQL_MAX_ROWS"`
	MaxOpenConns    int           `json:"maxOpenConns" env:"DBAGENT_SQL_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"maxIdleConns" env:"DBAGENT_SQL_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime,format:units" env:"DBAGENT_SQL_CONN_MAX_LIFETIME"`
	ConnectRetries  uint          `json:"connectRetries" env:"DBAGENT_SQL_CONNECT_RETRIES"`
}

// NoSQLConfig configures the document connector.
type NoSQLConfig struct {
	URL            string        `json:"-" env:"NOSQL_DATABASE_URL"`
	Database       string        `json:"database" env:"NOSQL_DATABASE"`
	AllowWrites    bool          `json:"allowWrites" env:"DBAGENT_NOSQL_ALLOW_WRITES"`
	AllowDrop      bool          `json:"allowDrop" env:"ALLOW_DROP_COLLECTIONS"`
	ConnectTimeout time.Duration `json:"connectTimeout,format:units" env:"DBAGENT_NOSQL_CONNECT_TIMEOUT"`
	ConnectRetries uint          `json:"connectRetries" env:"DBAGENT_NOSQL_CONNECT_RETRIES"`
	SampleSize     int64         `json:"sampleSize" env:"DBAGENT_NOSQL_SAMPLE_SIZE"`
	SchemaWorkers  int           `json:"schemaWorkers" env:"DBAGENT_NOSQL_SCHEMA_WORKERS"`
}

// ContextConfig controls schema context collection.
type ContextConfig struct {
	CacheTTL    time.Duration `json:"cacheTTL,format:units" env:"DBAGENT_CONTEXT_CACHE_TTL"`
	RefreshCron string        `json:"refreshCron" env:"DBAGENT_CONTEXT_REFRESH_CRON"`
	MaxTokens   int           `json:"maxTokens" env:"DBAGENT_CONTEXT_MAX_TOKENS"`
}

// AgentsConfig holds settings shared by the database agents.
type AgentsConfig struct {
	MaxRetries   int           `json:"maxRetries" env:"DBAGENT_AGENTS_MAX_RETRIES"`
	TaskTimeout  time.Duration `json:"taskTimeout,format:units" env:"DBAGENT_AGENTS_TASK_TIMEOUT"`
	HistoryTurns int           `json:"historyTurns" env:"DBAGENT_AGENTS_HISTORY_TURNS"`
}

// FormatterConfig controls response rendering.
type FormatterConfig struct {
	Synthesize bool `json:"synthesize" env:"DBAGENT_SYNTHESIZE"`
	MaxRows    int  `json:"maxRows" env:"DBAGENT_FORMATTER_MAX_ROWS"`
}

// HistoryConfig configures the run history store.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" env:"DBAGENT_HISTORY_ENABLED"`
	Path    string `json:"path" env:"DBAGENT_HISTORY_PATH"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string        `json:"addr" env:"DBAGENT_SERVER_ADDR"`
	Tokens          []string      `json:"-" env:"DBAGENT_SERVER_TOKENS" envSeparator:","`
	ShutdownTimeout time.Duration `json:"shutdownTimeout,format:units" env:"DBAGENT_SERVER_SHUTDOWN_TIMEOUT"`
	ReadTimeout     time.Duration `json:"readTimeout,format:units" env:"DBAGENT_SERVER_READ_TIMEOUT"`
}

// SlackConfig configures the socket-mode bot.
type SlackConfig struct {
	BotToken      string `json:"-" env:"SLACK_BOT_TOKEN"`
	AppToken      string `json:"-" env:"SLACK_APP_TOKEN"`
	ReportChannel string `json:"reportChannel" env:"DBAGENT_SLACK_REPORT_CHANNEL"`
}

// WorkerPoolConfig holds settings for the worker pool.
type WorkerPoolConfig struct {
	InitialWorkers int     `json:"initialWorkers" env:"DBAGENT_WORKERS_INITIAL"` // Initial number of workers
	MinWorkers     int     `json:"minWorkers" env:"DBAGENT_WORKERS_MIN"`         // Minimum number of workers
	MaxWorkers     int     `json:"maxWorkers" env:"DBAGENT_WORKERS_MAX"`         // Maximum number of workers
	QueueSize      int     `json:"queueSize" env:"DBAGENT_WORKERS_QUEUE"`        // Size of the task queue
	CPUThreshold   float64 `json:"cpuThreshold"`                                 // CPU usage threshold for scaling
	MemThreshold   float64 `json:"memThreshold"`                                 // Memory usage threshold for scaling
}

// EventBusConfig holds settings for the event bus.
type EventBusConfig struct {
	DefaultBufferSize int `json:"defaultBufferSize"` // Default buffer size for subscribers
}

// ScheduleConfig is a question asked on a cron schedule.
type ScheduleConfig struct {
	Name     string `json:"name"`
	Cron     string `json:"cron"`
	Question string `json:"question"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-3.5-turbo",
			Temperature:    0.7,
			MaxTokens:      2048,
			MaxRetries:     3,
			RequestTimeout: 60 * time.Second,
		},
		SQL: SQLConfig{
			MaxRows:         1000,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectRetries:  5,
		},
		NoSQL: NoSQLConfig{
			ConnectTimeout: 5 * time.Second,
			ConnectRetries: 5,
			SampleSize:     100,
			SchemaWorkers:  4,
		},
		Context: ContextConfig{
			CacheTTL:  5 * time.Minute,
			MaxTokens: 6000,
		},
		Agents: AgentsConfig{
			MaxRetries:   3,
			TaskTimeout:  60 * time.Second,
			HistoryTurns: 6,
		},
		Formatter: FormatterConfig{
			MaxRows: 50,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "dbagent-history.db",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			ReadTimeout:     30 * time.Second,
		},
		WorkerPool: WorkerPoolConfig{
			InitialWorkers: runtime.NumCPU(),
			MinWorkers:     1,
			MaxWorkers:     runtime.NumCPU() * 4,
			QueueSize:      100,
			CPUThreshold:   0.8,
			MemThreshold:   0.9,
		},
		EventBus: EventBusConfig{
			DefaultBufferSize: 64,
		},
	}
}

// LoadFromFile overlays a JSON file onto the defaults. A missing file is not
// an error.
func LoadFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()
	if filePath == "" {
		return config, nil
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return config, nil
}

// Load builds the effective configuration: defaults, then the optional JSON
// file, then the environment. envFile is loaded into the process environment
// first when it exists; variables already set win.
func Load(filePath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error loading env file %s: %w", envFile, err)
		}
	}

	config, err := LoadFromFile(filePath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays environment variables. Unset variables leave the current
// value untouched.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	return nil
}

// SaveToFile saves the configuration to a JSON file. Secrets are never written.
func (c *Config) SaveToFile(filePath string) error {
	data, err := json.Marshal(c, json.Deterministic(true), jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := utils.EnsureParentDir(filePath); err != nil {
		return err
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// APIKey returns the key for the configured provider.
func (c LLMConfig) APIKey() string {
	switch strings.ToLower(c.Provider) {
	case "anthropic":
		return c.AnthropicKey
	default:
		return c.OpenAIKey
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.WorkerPool.MinWorkers < 1 {
		return fmt.Errorf("minWorkers must be at least 1")
	}
	if c.WorkerPool.MaxWorkers < c.WorkerPool.MinWorkers {
		return fmt.Errorf("maxWorkers must be greater than or equal to minWorkers")
	}
	if c.WorkerPool.InitialWorkers < c.WorkerPool.MinWorkers || c.WorkerPool.InitialWorkers > c.WorkerPool.MaxWorkers {
		return fmt.Errorf("initialWorkers must be between minWorkers and maxWorkers")
	}
	if c.WorkerPool.QueueSize < 1 {
		return fmt.Errorf("queueSize must be at least 1")
	}
	if c.EventBus.DefaultBufferSize < 1 {
		return fmt.Errorf("defaultBufferSize must be at least 1")
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.Agents.MaxRetries < 0 {
		return fmt.Errorf("agents.maxRetries cannot be negative")
	}
	if c.Agents.TaskTimeout <= 0 {
		return fmt.Errorf("agents.taskTimeout must be positive")
	}
	if c.SQL.MaxRows < 1 {
		return fmt.Errorf("sql.maxRows must be at least 1")
	}

	if c.Context.RefreshCron != "" && !gronx.New().IsValid(c.Context.RefreshCron) {
		return fmt.Errorf("invalid context.refreshCron %q", c.Context.RefreshCron)
	}
	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedules[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if strings.TrimSpace(s.Question) == "" {
			return fmt.Errorf("schedule %s: question is required", s.Name)
		}
		if !gronx.New().IsValid(s.Cron) {
			return fmt.Errorf("schedule %s: invalid cron %q", s.Name, s.Cron)
		}
	}
	return nil
}

// ValidateRuntime additionally requires what answering a question needs:
// a provider key and at least one database.
func (c *Config) ValidateRuntime() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LLM.APIKey() == "" {
		return fmt.Errorf("missing API key for llm provider %q", c.LLM.Provider)
	}
	if c.SQL.URL == "" && c.NoSQL.URL == "" {
		return fmt.Errorf("at least one of SQL_DATABASE_URL or NOSQL_DATABASE_URL must be set")
	}
	return nil
}
