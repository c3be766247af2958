package source

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kadirbelkuyu/dbsync/internal/database"
	"github.com/kadirbelkuyu/dbsync/internal/schema"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// IDField is the identity column of every collection.
const IDField = "_id"

// MongoSource snapshots collections. Collections have no declared columns:
// the columns of a snapshot are the union of the top-level fields of its
// documents, with _id first.
type MongoSource struct {
	conn   *database.MongoConnection
	logger *logger.Logger
}

func NewMongoSource(conn *database.MongoConnection, logger *logger.Logger) *MongoSource {
	return &MongoSource{conn: conn, logger: logger}
}

func (s *MongoSource) Tables(ctx context.Context) (map[string]schema.Table, error) {
	collections, err := s.conn.Database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	tables := make(map[string]schema.Table, len(collections))
	for _, name := range collections {
		tables[name] = schema.Table{
			Name:        name,
			Columns:     []schema.Column{{Table: name, Name: IDField, OrdinalPosition: 1, DataType: "objectId"}},
			PrimaryKeys: []string{IDField},
		}
	}
	return tables, nil
}

func (s *MongoSource) FetchRows(ctx context.Context, table schema.Table) (*Snapshot, error) {
	cursor, err := s.conn.Database.Collection(table.Name).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", table.Name, err)
	}
	defer cursor.Close(ctx)

	var documents []bson.D
	for cursor.Next(ctx) {
		var document bson.D
		if err := cursor.Decode(&document); err != nil {
			return nil, fmt.Errorf("failed to decode document from %s: %w", table.Name, err)
		}
		documents = append(documents, document)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error reading documents from %s: %w", table.Name, err)
	}

	snapshot, err := documentsToSnapshot(documents)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", table.Name, err)
	}
	s.logger.Debugf("Fetched %d documents from %s", len(snapshot.Rows), table.Name)
	return snapshot, nil
}

func (s *MongoSource) Close() error {
	return s.conn.Close()
}

func documentsToSnapshot(documents []bson.D) (*Snapshot, error) {
	columns := []string{IDField}
	index := map[string]int{IDField: 0}
	for _, document := range documents {
		for _, elem := range document {
			if _, ok := index[elem.Key]; !ok {
				index[elem.Key] = len(columns)
				columns = append(columns, elem.Key)
			}
		}
	}

	snapshot := &Snapshot{Columns: columns, Rows: make([][]any, 0, len(documents))}
	for _, document := range documents {
		row := make([]any, len(columns))
		for _, elem := range document {
			v, err := normalize(elem.Value)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", elem.Key, err)
			}
			row[index[elem.Key]] = v
		}
		snapshot.Rows = append(snapshot.Rows, row)
	}
	return snapshot, nil
}

// normalize turns bson values into values value.Coerce understands.
// Identifiers become strings, dates become time.Time and nested documents
// and arrays become JSON text. Decimals stay as they are and are stringified
// by coercion.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex(), nil
	case primitive.DateTime:
		return x.Time().UTC(), nil
	case primitive.Timestamp:
		return int64(x.T), nil
	case primitive.Binary:
		return base64.StdEncoding.EncodeToString(x.Data), nil
	case primitive.Null, primitive.Undefined:
		return nil, nil
	case bson.D, bson.M, bson.A:
		plain, err := plainValue(x)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(plain)
		if err != nil {
			return nil, err
		}
		return data, nil
	default:
		return v, nil
	}
}

func plainValue(v any) (any, error) {
	switch x := v.(type) {
	case bson.D:
		out := make(map[string]any, len(x))
		for _, elem := range x {
			p, err := plainValue(elem.Value)
			if err != nil {
				return nil, err
			}
			out[elem.Key] = p
		}
		return out, nil
	case bson.M:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			p, err := plainValue(elem)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	case bson.A:
		out := make([]any, len(x))
		for i, elem := range x {
			p, err := plainValue(elem)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case primitive.Decimal128:
		return x.String(), nil
	default:
		return normalize(v)
	}
}
