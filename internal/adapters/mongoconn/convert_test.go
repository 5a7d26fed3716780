package mongoconn

import (
	"testing"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

func TestFromJSON_KeepsKeyOrder(t *testing.T) {
	d, err := documentFromJSON(jsontext.Value(`{"b": 1, "a": {"z": true, "y": [1, "x"]}}`), "query")
	require.NoError(t, err)
	require.Len(t, d, 2)
	assert.Equal(t, "b", d[0].Key)
	assert.Equal(t, "a", d[1].Key)

	inner, ok := d[1].Value.(bson.D)
	require.True(t, ok)
	assert.Equal(t, "z", inner[0].Key)
	assert.Equal(t, bson.A{int32(1), "x"}, inner[1].Value)
}

func TestFromJSON_ConvertsDates(t *testing.T) {
	d, err := documentFromJSON(jsontext.Value(`{"created_at": {"$gte": "2024-01-15T10:00:00Z", "$lt": "2024-02-01"}, "name": "2024 report"}`), "query")
	require.NoError(t, err)

	rng := d[0].Value.(bson.D)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), rng[0].Value)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), rng[1].Value)
	assert.Equal(t, "2024 report", d[1].Value, "non-date strings stay strings")
}

func TestFromJSON_ObjectIDs(t *testing.T) {
	const hexID = "65a1b2c3d4e5f60718293a4b"
	oid, err := primitive.ObjectIDFromHex(hexID)
	require.NoError(t, err)

	d, err := documentFromJSON(jsontext.Value(`{"_id": "`+hexID+`", "ref": "`+hexID+`"}`), "filter")
	require.NoError(t, err)
	assert.Equal(t, oid, d[0].Value)
	assert.Equal(t, hexID, d[1].Value, "only _id values are converted")

	d, err = documentFromJSON(jsontext.Value(`{"_id": {"$in": ["`+hexID+`"]}}`), "filter")
	require.NoError(t, err)
	in := d[0].Value.(bson.D)
	assert.Equal(t, bson.A{oid}, in[0].Value)

	d, err = documentFromJSON(jsontext.Value(`{"owner": {"$oid": "`+hexID+`"}}`), "filter")
	require.NoError(t, err)
	assert.Equal(t, oid, d[0].Value, "extended JSON is honoured")
}

func TestFromJSON_Errors(t *testing.T) {
	_, err := documentFromJSON(jsontext.Value(`[1, 2]`), "query")
	require.ErrorIs(t, err, domain.ErrInvalidQuerySpec)
	require.ErrorContains(t, err, "query must be an object")

	_, err = fromJSON(jsontext.Value(`{"a": `))
	require.ErrorIs(t, err, domain.ErrInvalidQuerySpec)

	d, err := documentFromJSON(nil, "sort")
	require.NoError(t, err)
	assert.Empty(t, d)
}

func TestHasOperators(t *testing.T) {
	assert.True(t, hasOperators(bson.D{{Key: "$set", Value: bson.D{}}}))
	assert.False(t, hasOperators(bson.D{{Key: "status", Value: "Active"}}))
}

func TestNormalize(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	dec, err := primitive.ParseDecimal128("12.50")
	require.NoError(t, err)

	got := normalizeDoc(bson.D{
		{Key: "_id", Value: oid},
		{Key: "at", Value: primitive.NewDateTimeFromTime(when)},
		{Key: "price", Value: dec},
		{Key: "tags", Value: bson.A{"a", bson.D{{Key: "n", Value: int32(1)}}}},
		{Key: "blob", Value: primitive.Binary{Data: []byte{0xde, 0xad}}},
		{Key: "none", Value: nil},
	})

	assert.Equal(t, map[string]any{
		"_id":   oid.Hex(),
		"at":    "2024-03-01T12:30:00Z",
		"price": "12.50",
		"tags":  []any{"a", map[string]any{"n": int32(1)}},
		"blob":  "dead",
		"none":  nil,
	}, got)
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"x", "string"},
		{int32(1), "int"},
		{int64(1), "int"},
		{1.5, "double"},
		{true, "bool"},
		{primitive.NewObjectID(), "objectId"},
		{primitive.NewDateTimeFromTime(time.Now()), "date"},
		{bson.D{}, "object"},
		{bson.A{}, "array"},
		{nil, "null"},
		{primitive.Decimal128{}, "decimal"},
		{primitive.Binary{}, "binary"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, typeName(tt.value), "%T", tt.value)
	}
}
