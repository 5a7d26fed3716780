// Package app wires the configured components into a running question
// answering service. Transports (CLI, HTTP, Slack) build an App and talk to
// its Service.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/eventbus"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/history"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/mongoconn"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/schemactx"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/sqlconn"
	"github.com/ZanzyTHEbar/dbagent/internal/adapters/workerpool"
	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/agents"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/formatter"
	"github.com/ZanzyTHEbar/dbagent/internal/llmpipeline/supervisor"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const (
	statsInterval = time.Minute
	closeTimeout  = 10 * time.Second
)

// Stores holds the configured database connections. Either may be nil.
type Stores struct {
	SQL   *sqlconn.Store
	NoSQL *mongoconn.Store
}

// OpenStores connects to every database cfg names. With a document store
// and no configured database, the first non-system database is selected.
func OpenStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	s := &Stores{}
	if cfg.SQL.URL != "" {
		store, err := sqlconn.Open(ctx, cfg.SQL.URL, sqlconn.OptionsFromConfig(cfg.SQL), log)
		if err != nil {
			return nil, err
		}
		s.SQL = store
	}
	if cfg.NoSQL.URL != "" {
		store, err := mongoconn.Connect(ctx, cfg.NoSQL.URL, mongoconn.OptionsFromConfig(cfg.NoSQL), log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.NoSQL = store
		if store.CurrentDatabase() == "" {
			name, err := store.SelectDefaultDatabase(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("no default mongodb database selected")
			} else {
				log.Info().Str("database", name).Msg("selected mongodb database")
			}
		}
	}
	return s, nil
}

// SQLStore returns the relational store as an interface, nil when absent.
func (s *Stores) SQLStore() ports.SQLStore {
	if s.SQL == nil {
		return nil
	}
	return s.SQL
}

// DocumentStore returns the document store as an interface, nil when absent.
func (s *Stores) DocumentStore() ports.DocumentStore {
	if s.NoSQL == nil {
		return nil
	}
	return s.NoSQL
}

// Ping checks every open connection.
func (s *Stores) Ping(ctx context.Context) error {
	var errs []error
	if s.SQL != nil {
		if err := s.SQL.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sql: %w", err))
		}
	}
	if s.NoSQL != nil {
		if err := s.NoSQL.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("nosql: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every open store.
func (s *Stores) Close() {
	if s.SQL != nil {
		_ = s.SQL.Close()
	}
	if s.NoSQL != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = s.NoSQL.Close(ctx)
	}
}

// App is the assembled service.
type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Bus      *eventbus.SimpleEventBus
	Pool     ports.TaskExecutor
	Stores   *Stores
	Schema   *schemactx.Collector
	History  ports.RunStore
	Registry *agents.Registry
	Service  *supervisor.Supervisor
	Stats    *domain.RunStatsCollector

	statsSub  eventbus.Subscriber
	stopStats chan struct{}
}

// New assembles an App from cfg. The configuration must pass
// ValidateRuntime. The worker pool is started; Close stops everything.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	if err := cfg.ValidateRuntime(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	model, err := llm.New(cfg.LLM, log)
	if err != nil {
		return nil, err
	}
	stores, err := OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := assemble(ctx, cfg, model, stores, log)
	if err != nil {
		stores.Close()
		return nil, err
	}
	return a, nil
}

// assemble builds everything above the connections. It is separate from New
// so tests can supply a mock model and local stores.
func assemble(ctx context.Context, cfg *config.Config, model ports.LLM, stores *Stores, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Bus = eventbus.NewSimpleEventBus(cfg.EventBus.DefaultBufferSize, log)
	monitor := workerpool.NewLoadMonitor(cfg.WorkerPool.CPUThreshold, cfg.WorkerPool.MemThreshold, log)
	pool, err := workerpool.NewWorkerPool(
		cfg.WorkerPool.InitialWorkers,
		cfg.WorkerPool.MinWorkers,
		cfg.WorkerPool.MaxWorkers,
		cfg.WorkerPool.QueueSize,
		monitor,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	a.Pool = pool
	if err := pool.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	a.Schema = schemactx.New(stores.SQLStore(), stores.DocumentStore(), schemactx.Options{
		CacheTTL:  cfg.Context.CacheTTL,
		MaxTokens: cfg.Context.MaxTokens,
		Counter:   llm.NewTokenCounter(cfg.LLM.Model, log),
	}, log)

	a.Registry = agents.NewRegistry(log)
	if stores.SQL != nil {
		if err := a.Registry.Register(agents.NewSQLAgent(model, stores.SQL, a.Schema.Truncate, log)); err != nil {
			return nil, err
		}
	}
	if stores.NoSQL != nil {
		agent := agents.NewNoSQLAgent(model, stores.NoSQL, a.Schema.Truncate, log, agents.OnDatabaseChanged(a.Schema.Invalidate))
		if err := a.Registry.Register(agent); err != nil {
			return nil, err
		}
	}

	a.History = history.Nop{}
	if cfg.History.Enabled {
		store, err := history.Open(ctx, cfg.History.Path, log)
		if err != nil {
			return nil, err
		}
		a.History = store
	}

	a.Service = supervisor.New(supervisor.Deps{
		LLM:       model,
		Schema:    a.Schema,
		Guard:     agents.NewGuard(a.Registry, cfg.Agents.TaskTimeout, log),
		Executor:  domain.NewDAGExecutor(pool, a.Bus, log, domain.WithPerTaskTimeout(cfg.Agents.TaskTimeout)),
		Formatter: formatter.New(model, formatter.Options{Synthesize: cfg.Formatter.Synthesize, MaxRows: cfg.Formatter.MaxRows}, log),
		History:   a.History,
		Bus:       a.Bus,
	}, supervisor.Options{
		MaxRetries:   cfg.Agents.MaxRetries,
		HistoryTurns: cfg.Agents.HistoryTurns,
	}, log)

	a.Stats = domain.NewRunStatsCollector(log)
	sub, err := a.Bus.SubscribeAll(cfg.EventBus.DefaultBufferSize)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe stats collector: %w", err)
	}
	a.statsSub = sub
	a.Stats.Consume(sub)
	a.stopStats = make(chan struct{})
	a.Stats.StartStatsMonitor(statsInterval, a.stopStats)

	// Stores are owned by the App only once assembly succeeded.
	a.Stores = stores

	log.Info().
		Bool("sql", stores.SQL != nil).
		Bool("nosql", stores.NoSQL != nil).
		Str("llm", cfg.LLM.Provider+"/"+cfg.LLM.Model).
		Bool("history", cfg.History.Enabled).
		Msg("dbagent ready")
	return a, nil
}

// Ready reports whether every configured database answers.
func (a *App) Ready(ctx context.Context) error {
	return a.Stores.Ping(ctx)
}

// Close stops background work and releases connections.
func (a *App) Close() {
	if a.stopStats != nil {
		close(a.stopStats)
		a.stopStats = nil
	}
	if a.Bus != nil {
		if a.statsSub != nil {
			a.Bus.UnsubscribeAll(a.statsSub)
			close(a.statsSub)
			a.statsSub = nil
		}
		a.Bus.Stop()
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("failed to close history store")
		}
	}
	if a.Stores != nil {
		a.Stores.Close()
	}
	if a.Stats != nil {
		a.Stats.LogStats()
	}
}
