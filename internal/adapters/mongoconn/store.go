package mongoconn

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ZanzyTHEbar/dbagent/internal/config"
	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
	"github.com/ZanzyTHEbar/dbagent/internal/utils"
)

const (
	defaultSampleSize     = 100
	defaultSchemaWorkers  = 4
	defaultConnectTimeout = 5 * time.Second

	// FallbackDatabase is selected when the server has no user databases.
	FallbackDatabase = "user_management_db"
)

var systemDatabases = map[string]bool{"admin": true, "local": true, "config": true}

// Options tunes a Store.
type Options struct {
	Database       string
	AllowWrites    bool
	AllowDrop      bool
	ConnectTimeout time.Duration
	ConnectRetries uint
	SampleSize     int64
	SchemaWorkers  int
}

// OptionsFromConfig copies the connector settings out of cfg.
func OptionsFromConfig(cfg config.NoSQLConfig) Options {
	return Options{
		Database:       cfg.Database,
		AllowWrites:    cfg.AllowWrites,
		AllowDrop:      cfg.AllowDrop,
		ConnectTimeout: cfg.ConnectTimeout,
		ConnectRetries: cfg.ConnectRetries,
		SampleSize:     cfg.SampleSize,
		SchemaWorkers:  cfg.SchemaWorkers,
	}
}

// Store is a MongoDB deployment with one selected database.
type Store struct {
	client *mongo.Client
	opts   Options
	log    zerolog.Logger
	pool   pond.ResultPool[*collectionSchema]

	mu sync.RWMutex
	db *mongo.Database
}

var _ ports.DocumentStore = (*Store)(nil)

type collectionSchema struct {
	name   string
	fields map[string]string
}

// Connect dials uri and waits for the primary to answer a ping. The
// configured database, if any, is selected but not verified; use
// SelectDefaultDatabase for discovery.
func Connect(ctx context.Context, uri string, opts Options, log zerolog.Logger) (*Store, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}
	if opts.SchemaWorkers <= 0 {
		opts.SchemaWorkers = defaultSchemaWorkers
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(opts.ConnectTimeout).
		SetConnectTimeout(opts.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConnectorUnavailable, utils.RedactURL(uri), err)
	}

	s := &Store{
		client: client,
		opts:   opts,
		log:    log.With().Str("component", "nosql_connector").Logger(),
		pool:   pond.NewResultPool[*collectionSchema](opts.SchemaWorkers),
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			s.log.Debug().Err(err).Msg("mongodb not ready")
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(opts.ConnectRetries+1))
	if err != nil {
		_ = client.Disconnect(context.Background())
		s.pool.Stop()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConnectorUnavailable, utils.RedactURL(uri), err)
	}

	if opts.Database != "" {
		s.db = client.Database(opts.Database)
	}
	s.log.Info().Str("url", utils.RedactURL(uri)).Msg("connected to MongoDB")
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client and stops the schema workers.
func (s *Store) Close(ctx context.Context) error {
	s.pool.StopAndWait()
	return s.client.Disconnect(ctx)
}

// CurrentDatabase names the selected database, or "" when none is.
func (s *Store) CurrentDatabase() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ""
	}
	return s.db.Name()
}

func (s *Store) database() (*mongo.Database, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, domain.ErrNoDatabaseSelected
	}
	return s.db, nil
}

// UseDatabase selects name after confirming it can be listed. On failure
// no database stays selected.
func (s *Store) UseDatabase(ctx context.Context, name string) error {
	db := s.client.Database(name)
	if _, err := db.ListCollectionNames(ctx, bson.D{}); err != nil {
		s.mu.Lock()
		s.db = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to switch to database %s: %w", name, err)
	}
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	s.log.Info().Str("database", name).Msg("switched database")
	return nil
}

// SelectDefaultDatabase picks the configured database, else the first
// non-system database on the server, else FallbackDatabase.
func (s *Store) SelectDefaultDatabase(ctx context.Context) (string, error) {
	name := s.opts.Database
	if name == "" {
		dbs, err := s.ListDatabases(ctx)
		if err != nil {
			return "", err
		}
		for _, db := range dbs {
			if !systemDatabases[db] {
				name = db
				break
			}
		}
	}
	if name == "" {
		name = FallbackDatabase
	}
	if err := s.UseDatabase(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// ListDatabases lists every database name on the server.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// ListCollections lists the selected database's collections alphabetically.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) collectionExists(ctx context.Context, db *mongo.Database, name string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, fmt.Errorf("failed to list collections: %w", err)
	}
	return len(names) > 0, nil
}

// CreateCollection reports false when the collection already existed.
func (s *Store) CreateCollection(ctx context.Context, name string) (bool, error) {
	db, err := s.database()
	if err != nil {
		return false, err
	}
	exists, err := s.collectionExists(ctx, db, name)
	if err != nil || exists {
		return false, err
	}
	if err := db.CreateCollection(ctx, name); err != nil {
		var cmdErr mongo.CommandError
		// NamespaceExists: another client created it first.
		if errors.As(err, &cmdErr) && cmdErr.Code == 48 {
			return false, nil
		}
		return false, fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return true, nil
}

// DropCollection reports false when there was nothing to drop.
func (s *Store) DropCollection(ctx context.Context, name string) (bool, error) {
	db, err := s.database()
	if err != nil {
		return false, err
	}
	exists, err := s.collectionExists(ctx, db, name)
	if err != nil || !exists {
		return false, err
	}
	if err := db.Collection(name).Drop(ctx); err != nil {
		return false, fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return true, nil
}

// CollectionSchema infers field types from a sample of documents. The first
// type seen for a field wins.
func (s *Store) CollectionSchema(ctx context.Context, name string) (map[string]string, error) {
	db, err := s.database()
	if err != nil {
		return nil, err
	}
	exists, err := s.collectionExists(ctx, db, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: Collection %s does not exist", domain.ErrCollectionNotFound, name)
	}

	cur, err := db.Collection(name).Find(ctx, bson.D{}, options.Find().SetLimit(s.opts.SampleSize))
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", name, err)
	}
	defer cur.Close(ctx)

	fields := make(map[string]string)
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", name, err)
		}
		for _, e := range doc {
			if _, seen := fields[e.Key]; !seen {
				fields[e.Key] = typeName(e.Value)
			}
		}
	}
	return fields, cur.Err()
}

// Schema infers every collection of the selected database concurrently.
// Collections that fail are logged and left out.
func (s *Store) Schema(ctx context.Context) (*domain.NoSQLSchema, error) {
	names, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	group := s.pool.NewGroupContext(ctx)
	for _, name := range names {
		group.SubmitErr(func() (*collectionSchema, error) {
			fields, err := s.CollectionSchema(ctx, name)
			if err != nil {
				s.log.Warn().Err(err).Str("collection", name).Msg("skipping collection schema")
				return nil, nil
			}
			return &collectionSchema{name: name, fields: fields}, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to infer collection schemas: %w", err)
	}

	schema := &domain.NoSQLSchema{
		Database:    s.CurrentDatabase(),
		Collections: make(map[string]map[string]string, len(results)),
	}
	for _, r := range results {
		if r != nil {
			schema.Collections[r.name] = r.fields
		}
	}
	return schema, nil
}
