package mongoconn

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ZanzyTHEbar/dbagent/internal/domain"
)

// dateLayouts are tried in order when deciding whether a string is a date.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// fromJSON decodes a raw JSON member into BSON values, keeping key order
// (documents become bson.D, arrays bson.A). Extended JSON such as
// {"$oid": ...} or {"$date": ...} is honoured. Date strings become
// time.Time and 24-hex strings under _id become ObjectIDs.
func fromJSON(raw jsontext.Value) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	wrapped := make([]byte, 0, len(raw)+8)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, raw...)
	wrapped = append(wrapped, '}')

	var holder struct {
		V any `bson:"v"`
	}
	if err := bson.UnmarshalExtJSON(wrapped, false, &holder); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQuerySpec, err)
	}
	return convertValue(holder.V, false), nil
}

// documentFromJSON is fromJSON for members that must be a single document.
// Empty input yields an empty document.
func documentFromJSON(raw jsontext.Value, field string) (bson.D, error) {
	v, err := fromJSON(raw)
	if err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case nil:
		return bson.D{}, nil
	case bson.D:
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %s must be an object", domain.ErrInvalidQuerySpec, field)
	}
}

func convertValue(v any, idField bool) any {
	switch val := v.(type) {
	case bson.D:
		out := make(bson.D, len(val))
		for i, e := range val {
			out[i] = bson.E{Key: e.Key, Value: convertValue(e.Value, e.Key == "_id" || (idField && strings.HasPrefix(e.Key, "$")))}
		}
		return out
	case bson.A:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = convertValue(item, idField)
		}
		return out
	case string:
		if idField && len(val) == 24 {
			if oid, err := primitive.ObjectIDFromHex(val); err == nil {
				return oid
			}
		}
		if t, ok := parseDate(val); ok {
			return t
		}
		return val
	default:
		return val
	}
}

func parseDate(s string) (time.Time, bool) {
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// hasOperators reports whether an update document uses $-operators. Plain
// documents are wrapped in $set.
func hasOperators(d bson.D) bool {
	for _, e := range d {
		if strings.HasPrefix(e.Key, "$") {
			return true
		}
	}
	return false
}

// normalize converts driver values into JSON-safe ones.
func normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return hex.EncodeToString(val.Data)
	case primitive.Regex:
		return val.Pattern
	case primitive.Null, primitive.Undefined:
		return nil
	case bson.D:
		return normalizeDoc(val)
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return val
	}
}

func normalizeDoc(d bson.D) map[string]any {
	out := make(map[string]any, len(d))
	for _, e := range d {
		out[e.Key] = normalize(e.Value)
	}
	return out
}

// typeName labels a BSON value for the inferred schema.
func typeName(v any) string {
	switch v.(type) {
	case nil, primitive.Null, primitive.Undefined:
		return "null"
	case string:
		return "string"
	case int32, int64, int:
		return "int"
	case float64, float32:
		return "double"
	case bool:
		return "bool"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime, time.Time, primitive.Timestamp:
		return "date"
	case bson.D, bson.M:
		return "object"
	case bson.A, []any:
		return "array"
	case primitive.Decimal128:
		return "decimal"
	case primitive.Binary:
		return "binary"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func present(v jsontext.Value) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}
