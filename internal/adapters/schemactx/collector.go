package schemactx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ZanzyTHEbar/dbagent/internal/adapters/llm"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

const (
	cacheKey              = "schema"
	defaultCollectTimeout = time.Minute
)

// DatabaseSelector is implemented by document stores that can pick a
// database on their own when none is selected.
type DatabaseSelector interface {
	SelectDefaultDatabase(ctx context.Context) (string, error)
}

// Options tunes a Collector.
type Options struct {
	CacheTTL  time.Duration
	MaxTokens int
	Counter   *llm.TokenCounter
	Clock     clockwork.Clock
	// Timeout bounds one shared collection, independent of the caller
	// that started it. Defaults to one minute.
	Timeout time.Duration
}

// Collector gathers relational and document schemas into one
// SchemaContext. Results are cached; concurrent callers share one
// collection.
type Collector struct {
	sql   ports.SQLStore
	nosql ports.DocumentStore

	cache     *ttlcache.Cache[string, *domain.SchemaContext]
	flight    singleflight.Group
	counter   *llm.TokenCounter
	maxTokens int
	timeout   time.Duration
	clock     clockwork.Clock
	log       zerolog.Logger
}

var _ ports.SchemaSource = (*Collector)(nil)

// New builds a Collector. Either store may be nil when not configured.
func New(sql ports.SQLStore, nosql ports.DocumentStore, opts Options, log zerolog.Logger) *Collector {
	if opts.Counter == nil {
		opts.Counter = llm.EstimatingCounter()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCollectTimeout
	}

	cacheOpts := []ttlcache.Option[string, *domain.SchemaContext]{ttlcache.WithDisableTouchOnHit[string, *domain.SchemaContext]()}
	if opts.CacheTTL > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithTTL[string, *domain.SchemaContext](opts.CacheTTL))
	}

	return &Collector{
		sql:       sql,
		nosql:     nosql,
		cache:     ttlcache.New(cacheOpts...),
		counter:   opts.Counter,
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
		clock:     opts.Clock,
		log:       log.With().Str("component", "schema_collector").Logger(),
	}
}

// Collect returns the cached schema context, gathering it when the cache is
// empty or expired. A side that fails is reported in the context; Collect
// only errors when nothing could be gathered.
func (c *Collector) Collect(ctx context.Context) (*domain.SchemaContext, error) {
	if c.sql == nil && c.nosql == nil {
		return nil, domain.ErrConnectorUnavailable
	}

	if item := c.cache.Get(cacheKey); item != nil {
		metrics.SchemaCacheTotal.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}
	metrics.SchemaCacheTotal.WithLabelValues("miss").Inc()

	// The shared collection outlives any one waiter; a caller that goes
	// away only stops waiting.
	ch := c.flight.DoChan(cacheKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.collect(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.SchemaContext), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh drops the cached context and collects a new one.
func (c *Collector) Refresh(ctx context.Context) (*domain.SchemaContext, error) {
	c.Invalidate()
	return c.Collect(ctx)
}

// Invalidate drops the cached context.
func (c *Collector) Invalidate() {
	c.cache.Delete(cacheKey)
}

func (c *Collector) collect(ctx context.Context) (*domain.SchemaContext, error) {
	start := c.clock.Now()
	sc := &domain.SchemaContext{}

	var (
		g                errgroup.Group
		sqlErr, nosqlErr error
	)
	if c.sql != nil {
		g.Go(func() error {
			schema, err := c.sql.Schema(ctx)
			if err != nil {
				sqlErr = err
				return nil
			}
			sc.SQL = schema
			return nil
		})
	}
	if c.nosql != nil {
		g.Go(func() error {
			schema, err := c.documentSchema(ctx)
			if err != nil {
				nosqlErr = err
				return nil
			}
			sc.NoSQL = schema
			return nil
		})
	}
	_ = g.Wait()

	if sqlErr != nil {
		c.log.Warn().Err(sqlErr).Msg("error retrieving SQL schema")
		sc.SQLError = sqlErr.Error()
	}
	if nosqlErr != nil {
		c.log.Warn().Err(nosqlErr).Msg("error retrieving NoSQL schemas")
		sc.NoSQLError = nosqlErr.Error()
	}
	if sc.SQL == nil && sc.NoSQL == nil {
		return nil, fmt.Errorf("failed to collect schema context: %w", errors.Join(sqlErr, nosqlErr))
	}

	sc.CollectedAt = c.clock.Now()
	c.cache.Set(cacheKey, sc, ttlcache.DefaultTTL)
	c.log.Debug().Dur("took", sc.CollectedAt.Sub(start)).Msg("schema context collected")
	return sc, nil
}

func (c *Collector) documentSchema(ctx context.Context) (*domain.NoSQLSchema, error) {
	if c.nosql.CurrentDatabase() == "" {
		sel, ok := c.nosql.(DatabaseSelector)
		if !ok {
			return nil, domain.ErrNoDatabaseSelected
		}
		name, err := sel.SelectDefaultDatabase(ctx)
		if err != nil {
			return nil, err
		}
		c.log.Info().Str("database", name).Msg("selected default NoSQL database")
	}
	return c.nosql.Schema(ctx)
}

// Render formats sc for prompts, trimmed to the configured token budget.
func (c *Collector) Render(sc *domain.SchemaContext) string {
	return c.Truncate(sc.String())
}

// Truncate trims text to the configured token budget.
func (c *Collector) Truncate(text string) string {
	return c.counter.Truncate(text, c.maxTokens)
}

// RefreshJob returns a scheduler job that re-collects the schema on cron.
func (c *Collector) RefreshJob(ctx context.Context, cron string) *domain.ScheduledJob {
	return &domain.ScheduledJob{
		ID:   "schema-refresh",
		Name: "schema-refresh",
		Cron: cron,
		Job: domain.RunnableFunc(func() error {
			_, err := c.Refresh(ctx)
			if err != nil {
				c.log.Error().Err(err).Msg("scheduled schema refresh failed")
			}
			return err
		}),
	}
}
