package mongoconn

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
	"github.com/ZanzyTHEbar/dbagent/internal/metrics"
	"github.com/ZanzyTHEbar/dbagent/internal/ports"
)

// Execute runs a validated QuerySpec against the selected database.
func (s *Store) Execute(ctx context.Context, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	kind := "read"
	if spec.IsWrite() {
		kind = "write"
	}
	res, err := s.execute(ctx, spec)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.QueriesTotal.WithLabelValues("nosql", kind, status).Inc()
	return res, err
}

func (s *Store) execute(ctx context.Context, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if spec.IsWrite() && !s.opts.AllowWrites {
		return nil, fmt.Errorf("%w: %s is disabled", domain.ErrWriteNotAllowed, describe(spec))
	}

	if spec.Operation == domain.OpDBOperation {
		return s.dbOperation(ctx, spec)
	}

	db, err := s.database()
	if err != nil {
		return nil, fmt.Errorf("%w. Use 'use database [name]' first", err)
	}

	exists, err := s.collectionExists(ctx, db, spec.Collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		if spec.Operation != domain.OpInsert {
			return nil, fmt.Errorf("%w: Collection %s does not exist", domain.ErrCollectionNotFound, spec.Collection)
		}
		s.log.Info().Str("collection", spec.Collection).Msg("collection does not exist, creating it")
		if _, err := s.CreateCollection(ctx, spec.Collection); err != nil {
			return nil, err
		}
	}

	coll := db.Collection(spec.Collection)
	switch spec.Operation {
	case domain.OpFind:
		return s.find(ctx, coll, spec)
	case domain.OpAggregate:
		return s.aggregate(ctx, coll, spec)
	case domain.OpInsert:
		return s.insert(ctx, coll, spec)
	case domain.OpUpdate:
		return s.update(ctx, coll, spec)
	case domain.OpDelete:
		return s.delete(ctx, coll, spec)
	}
	return nil, fmt.Errorf("%w: unsupported operation: %s", domain.ErrInvalidQuerySpec, spec.Operation)
}

func describe(spec *domain.QuerySpec) string {
	if spec.Operation == domain.OpDBOperation {
		return spec.Action
	}
	if spec.Operation == domain.OpAggregate {
		return "aggregate with $out or $merge"
	}
	return string(spec.Operation)
}

func (s *Store) dbOperation(ctx context.Context, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	res := &ports.DocumentResult{Operation: spec.Action}

	switch spec.Action {
	case domain.ActionUseDB:
		if err := s.UseDatabase(ctx, spec.Database); err != nil {
			return nil, err
		}
		res.Message = "Switched to database: " + spec.Database

	case domain.ActionListDBs:
		dbs, err := s.ListDatabases(ctx)
		if err != nil {
			return nil, err
		}
		res.Count = len(dbs)
		res.Data = map[string]any{"databases": dbs, "count": len(dbs)}

	case domain.ActionListCollections:
		colls, err := s.ListCollections(ctx)
		if err != nil {
			return nil, err
		}
		res.Count = len(colls)
		res.Data = map[string]any{"database": s.CurrentDatabase(), "collections": colls, "count": len(colls)}

	case domain.ActionCreateCollection:
		created, err := s.CreateCollection(ctx, spec.Collection)
		if err != nil {
			return nil, err
		}
		outcome := "already exists"
		if created {
			outcome = "created"
		}
		res.Message = fmt.Sprintf("Collection %s %s", spec.Collection, outcome)

	case domain.ActionDropCollection:
		if !s.opts.AllowDrop {
			return nil, fmt.Errorf("%w: dropping collections is disabled", domain.ErrWriteNotAllowed)
		}
		dropped, err := s.DropCollection(ctx, spec.Collection)
		if err != nil {
			return nil, err
		}
		outcome := "could not be dropped"
		if dropped {
			outcome = "dropped"
		}
		res.Message = fmt.Sprintf("Collection %s %s", spec.Collection, outcome)

	case domain.ActionGetSchema:
		if spec.Collection != "" {
			fields, err := s.CollectionSchema(ctx, spec.Collection)
			if err != nil {
				return nil, err
			}
			res.Data = map[string]any{"collection": spec.Collection, "schema": fields}
			break
		}
		schema, err := s.Schema(ctx)
		if err != nil {
			return nil, err
		}
		res.Count = len(schema.Collections)
		res.Data = map[string]any{"schemas": schema.Collections}

	default:
		return nil, fmt.Errorf("%w: unsupported database operation: %s", domain.ErrInvalidQuerySpec, spec.Action)
	}
	return res, nil
}

func (s *Store) find(ctx context.Context, coll *mongo.Collection, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	filter, err := documentFromJSON(spec.Query, "query")
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if spec.Limit > 0 {
		opts.SetLimit(spec.Limit)
	}
	if spec.Skip > 0 {
		opts.SetSkip(spec.Skip)
	}
	if present(spec.Sort) {
		sort, err := documentFromJSON(spec.Sort, "sort")
		if err != nil {
			return nil, err
		}
		opts.SetSort(sort)
	}
	if present(spec.Projection) {
		projection, err := documentFromJSON(spec.Projection, "projection")
		if err != nil {
			return nil, err
		}
		opts.SetProjection(projection)
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find failed: %w", err)
	}
	rows, err := drain(ctx, cur)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("collection", spec.Collection).Int("count", len(rows)).Msg("find completed")
	return &ports.DocumentResult{Operation: "find", Rows: rows, Count: len(rows)}, nil
}

func (s *Store) aggregate(ctx context.Context, coll *mongo.Collection, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	v, err := fromJSON(spec.Pipeline)
	if err != nil {
		return nil, err
	}
	pipeline, ok := v.(bson.A)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline must be an array", domain.ErrInvalidQuerySpec)
	}

	cur, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate failed: %w", err)
	}
	rows, err := drain(ctx, cur)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("collection", spec.Collection).Int("count", len(rows)).Msg("aggregate completed")
	return &ports.DocumentResult{Operation: "aggregate", Rows: rows, Count: len(rows)}, nil
}

func (s *Store) insert(ctx context.Context, coll *mongo.Collection, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	v, err := fromJSON(spec.Document)
	if err != nil {
		return nil, err
	}

	switch doc := v.(type) {
	case bson.A:
		if len(doc) == 0 {
			return nil, fmt.Errorf("%w: document list is empty", domain.ErrInvalidQuerySpec)
		}
		res, err := coll.InsertMany(ctx, []any(doc))
		if err != nil {
			return nil, fmt.Errorf("insert failed: %w", err)
		}
		ids := make([]any, len(res.InsertedIDs))
		for i, id := range res.InsertedIDs {
			ids[i] = normalize(id)
		}
		return &ports.DocumentResult{
			Operation: "insert_many",
			Count:     len(ids),
			Message:   fmt.Sprintf("Inserted %d documents", len(ids)),
			Data:      map[string]any{"inserted_count": len(ids), "inserted_ids": ids},
		}, nil
	case bson.D:
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("insert failed: %w", err)
		}
		id := normalize(res.InsertedID)
		return &ports.DocumentResult{
			Operation: "insert_one",
			Count:     1,
			Message:   fmt.Sprintf("Inserted ID: %v", id),
			Data:      map[string]any{"inserted_id": id},
		}, nil
	default:
		return nil, fmt.Errorf("%w: document must be an object or an array of objects", domain.ErrInvalidQuerySpec)
	}
}

func (s *Store) update(ctx context.Context, coll *mongo.Collection, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	filter, err := documentFromJSON(spec.Filter, "filter")
	if err != nil {
		return nil, err
	}
	change, err := documentFromJSON(spec.Update, "update")
	if err != nil {
		return nil, err
	}
	if !hasOperators(change) {
		change = bson.D{{Key: "$set", Value: change}}
	}

	opts := options.Update().SetUpsert(spec.Upsert)
	var (
		res *mongo.UpdateResult
		op  string
	)
	if spec.UpdateOne {
		op = "update_one"
		res, err = coll.UpdateOne(ctx, filter, change, opts)
	} else {
		op = "update_many"
		res, err = coll.UpdateMany(ctx, filter, change, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("update failed: %w", err)
	}

	data := map[string]any{
		"matched_count":  res.MatchedCount,
		"modified_count": res.ModifiedCount,
		"upserted_id":    nil,
	}
	if res.UpsertedID != nil {
		data["upserted_id"] = normalize(res.UpsertedID)
	}
	return &ports.DocumentResult{
		Operation: op,
		Count:     int(res.ModifiedCount),
		Message:   fmt.Sprintf("Matched %d, modified %d", res.MatchedCount, res.ModifiedCount),
		Data:      data,
	}, nil
}

func (s *Store) delete(ctx context.Context, coll *mongo.Collection, spec *domain.QuerySpec) (*ports.DocumentResult, error) {
	filter, err := documentFromJSON(spec.Filter, "filter")
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return nil, domain.ErrEmptyDeleteFilter
	}

	var (
		res *mongo.DeleteResult
		op  string
	)
	if spec.DeleteOne {
		op = "delete_one"
		res, err = coll.DeleteOne(ctx, filter)
	} else {
		op = "delete_many"
		res, err = coll.DeleteMany(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("delete failed: %w", err)
	}
	return &ports.DocumentResult{
		Operation: op,
		Count:     int(res.DeletedCount),
		Message:   fmt.Sprintf("Deleted %d documents", res.DeletedCount),
		Data:      map[string]any{"deleted_count": res.DeletedCount},
	}, nil
}

func drain(ctx context.Context, cur *mongo.Cursor) ([]map[string]any, error) {
	defer cur.Close(ctx)
	rows := []map[string]any{}
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		rows = append(rows, normalizeDoc(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("cursor failed: %w", err)
	}
	return rows, nil
}
