package mongoconn

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

func startMongo(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	c, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to cleanup mongodb container: %v", err)
		}
	})

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return uri
}

func connectSeeded(t *testing.T, uri string, opts Options) *Store {
	t.Helper()
	ctx := t.Context()
	opts.Database = "user_management_db"
	opts.ConnectRetries = 3

	store, err := Connect(ctx, uri, opts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })

	report, err := store.SeedDemo(ctx, SeedOptions{
		Drop:  true,
		Users: 30,
		Logs:  60,
		Rand:  rand.New(rand.NewPCG(1, 2)),
	})
	require.NoError(t, err)
	require.Equal(t, 7, report.Roles)
	return store
}

func spec(t *testing.T, raw string) *domain.QuerySpec {
	t.Helper()
	s, err := domain.ParseQuerySpec([]byte(raw))
	require.NoError(t, err)
	return s
}

func TestStore_Mongo(t *testing.T) {
	uri := startMongo(t)
	ctx := t.Context()

	t.Run("schema", func(t *testing.T) {
		store := connectSeeded(t, uri, Options{})

		schema, err := store.Schema(ctx)
		require.NoError(t, err)
		assert.Equal(t, "user_management_db", schema.Database)
		assert.Equal(t, []string{"activity_logs", "roles", "users"}, schema.CollectionNames())
		assert.Equal(t, "string", schema.Collections["users"]["email"])
		assert.Equal(t, "objectId", schema.Collections["users"]["_id"])
		assert.Equal(t, "object", schema.Collections["users"]["address"])
		assert.Equal(t, "array", schema.Collections["roles"]["permissions"])
		assert.Equal(t, "date", schema.Collections["activity_logs"]["timestamp"])

		_, err = store.CollectionSchema(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrCollectionNotFound)
	})

	t.Run("reads", func(t *testing.T) {
		store := connectSeeded(t, uri, Options{})

		res, err := store.Execute(ctx, spec(t, `{"collection": "roles", "operation": "find", "query": {"name": "Admin"}, "projection": {"_id": 0, "name": 1, "permissions": 1}}`))
		require.NoError(t, err)
		require.Equal(t, 1, res.Count)
		assert.Equal(t, "Admin", res.Rows[0]["name"])
		assert.NotContains(t, res.Rows[0], "_id")

		res, err = store.Execute(ctx, spec(t, `{"collection": "users", "operation": "find", "query": {}, "sort": {"username": 1}, "limit": 5, "skip": 2}`))
		require.NoError(t, err)
		assert.Len(t, res.Rows, 5)
		assert.IsType(t, "", res.Rows[0]["_id"])

		res, err = store.Execute(ctx, spec(t, `{"collection": "users", "operation": "aggregate", "pipeline": [{"$group": {"_id": null, "n": {"$sum": 1}}}]}`))
		require.NoError(t, err)
		require.Len(t, res.Rows, 1)
		assert.EqualValues(t, 30, res.Rows[0]["n"])

		res, err = store.Execute(ctx, spec(t, `{"collection": "activity_logs", "operation": "find", "query": {"timestamp": {"$gte": "2000-01-01T00:00:00Z"}}, "limit": 1}`))
		require.NoError(t, err)
		assert.Equal(t, 1, res.Count, "ISO strings compare against stored dates")

		_, err = store.Execute(ctx, spec(t, `{"collection": "nope", "operation": "find", "query": {}}`))
		require.ErrorIs(t, err, domain.ErrCollectionNotFound)
		assert.ErrorContains(t, err, "Collection nope does not exist")
	})

	t.Run("writes disabled", func(t *testing.T) {
		store := connectSeeded(t, uri, Options{})

		_, err := store.Execute(ctx, spec(t, `{"collection": "users", "operation": "delete", "filter": {"status": "Pending"}}`))
		require.ErrorIs(t, err, domain.ErrWriteNotAllowed)
	})

	t.Run("writes", func(t *testing.T) {
		store := connectSeeded(t, uri, Options{AllowWrites: true})

		res, err := store.Execute(ctx, spec(t, `{"collection": "audits", "operation": "insert", "document": [{"kind": "a"}, {"kind": "b"}]}`))
		require.NoError(t, err)
		assert.Equal(t, "insert_many", res.Operation)
		assert.Equal(t, 2, res.Count)

		res, err = store.Execute(ctx, spec(t, `{"collection": "audits", "operation": "update", "filter": {"kind": "a"}, "update": {"reviewed": true}, "update_one": true}`))
		require.NoError(t, err)
		assert.Equal(t, "update_one", res.Operation)
		assert.EqualValues(t, 1, res.Data["modified_count"])

		res, err = store.Execute(ctx, spec(t, `{"collection": "audits", "operation": "update", "filter": {"kind": "c"}, "update": {"$set": {"reviewed": false}}, "upsert": true}`))
		require.NoError(t, err)
		assert.NotNil(t, res.Data["upserted_id"])

		delSpec := spec(t, `{"collection": "audits", "operation": "delete", "filter": {"kind": "b"}}`)
		res, err = store.Execute(ctx, delSpec)
		require.NoError(t, err)
		assert.Equal(t, "delete_many", res.Operation)
		assert.EqualValues(t, 1, res.Data["deleted_count"])

		delSpec.Filter = jsontext.Value(`{}`)
		_, err = store.Execute(ctx, delSpec)
		require.ErrorIs(t, err, domain.ErrEmptyDeleteFilter)
	})

	t.Run("db operations", func(t *testing.T) {
		store := connectSeeded(t, uri, Options{AllowWrites: true})

		res, err := store.Execute(ctx, spec(t, `{"operation": "db_operation", "action": "list_collections"}`))
		require.NoError(t, err)
		assert.Equal(t, "user_management_db", res.Data["database"])

		res, err = store.Execute(ctx, spec(t, `{"operation": "db_operation", "action": "create_collection", "collection": "roles"}`))
		require.NoError(t, err)
		assert.Equal(t, "Collection roles already exists", res.Message)

		_, err = store.Execute(ctx, spec(t, `{"operation": "db_operation", "action": "drop_collection", "collection": "roles"}`))
		require.ErrorIs(t, err, domain.ErrWriteNotAllowed, "drops need their own switch")

		res, err = store.Execute(ctx, spec(t, `{"operation": "db_operation", "action": "get_schema", "collection": "roles"}`))
		require.NoError(t, err)
		assert.Equal(t, "roles", res.Data["collection"])

		res, err = store.Execute(ctx, spec(t, `{"operation": "db_operation", "action": "use_db", "database": "scratch"}`))
		require.NoError(t, err)
		assert.Equal(t, "Switched to database: scratch", res.Message)
		assert.Equal(t, "scratch", store.CurrentDatabase())
	})

	t.Run("default database", func(t *testing.T) {
		connectSeeded(t, uri, Options{})

		store, err := Connect(ctx, uri, Options{ConnectTimeout: 3 * time.Second}, zerolog.Nop())
		require.NoError(t, err)
		defer store.Close(context.Background())

		_, err = store.ListCollections(ctx)
		require.ErrorIs(t, err, domain.ErrNoDatabaseSelected)

		name, err := store.SelectDefaultDatabase(ctx)
		require.NoError(t, err)
		assert.NotContains(t, []string{"admin", "local", "config"}, name)
	})
}
