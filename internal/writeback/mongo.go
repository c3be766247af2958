package writeback

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/executor"
	"github.com/kadirbelkuyu/dbsync/internal/mapping"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/source"
	"github.com/kadirbelkuyu/dbsync/internal/translate"
	"github.com/kadirbelkuyu/dbsync/internal/value"
	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

// IDBackfiller stores the ids generated for inserted documents on the
// internal rows that produced them, so later changes can address them.
type IDBackfiller interface {
	BackfillIDs(ctx context.Context, table, column string, ids map[int64]string) error
}

// MongoTarget writes row changes of mapped tables to their source
// collections. Documents are addressed by _id.
type MongoTarget struct {
	db        *mongo.Database
	mapping   *mapping.TableMapping
	resolver  translate.KeyResolver
	backfill  IDBackfiller
	chunkSize int
	logger    *logger.Logger
}

// NewMongoTarget builds a Mongo writeback target. backfill may be nil.
func NewMongoTarget(db *mongo.Database, m *mapping.TableMapping, resolver translate.KeyResolver, backfill IDBackfiller, chunkSize int, log *logger.Logger) *MongoTarget {
	if chunkSize < 1 {
		chunkSize = executor.DefaultChunkSize
	}
	return &MongoTarget{
		db:        db,
		mapping:   m,
		resolver:  resolver,
		backfill:  backfill,
		chunkSize: chunkSize,
		logger:    log,
	}
}

func (t *MongoTarget) Apply(ctx context.Context, before catalog.Schema, tx *mutation.Transaction) error {
	step := &mongoStep{MongoTarget: t, ctx: ctx, tx: tx, before: before, schema: before}
	for i, m := range tx.Mutations {
		if err := m.Accept(step); err != nil {
			return fmt.Errorf("transaction %s mutation %d (%s): %w", tx.ID, i, m.Kind(), err)
		}
		next, err := mutation.Transition(step.schema, m)
		if err != nil {
			return fmt.Errorf("transaction %s mutation %d (%s): %w", tx.ID, i, m.Kind(), err)
		}
		step.schema = next
	}
	return nil
}

type mongoStep struct {
	*MongoTarget
	ctx    context.Context
	tx     *mutation.Transaction
	before catalog.Schema
	schema catalog.Schema
}

func (v *mongoStep) target(uuid string) (catalog.TableDescriptor, string, bool, error) {
	table, err := v.schema.Table(uuid)
	if err != nil {
		return catalog.TableDescriptor{}, "", false, err
	}
	collection, ok := v.mapping.Source(table.Name)
	return table, collection, ok, nil
}

func columnsOf(table catalog.TableDescriptor, uuids []string) ([]catalog.ColumnDescriptor, error) {
	columns := make([]catalog.ColumnDescriptor, len(uuids))
	for i, id := range uuids {
		col, err := table.Column(id)
		if err != nil {
			return nil, err
		}
		columns[i] = col
	}
	return columns, nil
}

func checkRows(rows []mutation.Row, width int) error {
	for _, row := range rows {
		if len(row.Values) != width {
			return fmt.Errorf("%w: row %d has %d values for %d columns", translate.ErrRowWidth, row.Key, len(row.Values), width)
		}
	}
	return nil
}

// document builds the fields of row, leaving out system columns and _id.
func document(columns []catalog.ColumnDescriptor, row mutation.Row) (bson.D, value.Scalar) {
	var (
		doc bson.D
		id  = value.Null()
	)
	for i, col := range columns {
		switch {
		case col.IsSystem():
		case col.Name == source.IDField:
			id = row.Values[i]
		default:
			doc = append(doc, bson.E{Key: col.Name, Value: row.Values[i].Interface()})
		}
	}
	return doc, id
}

// documentID turns a stored id back into an ObjectID when it is one.
func documentID(v value.Scalar) any {
	if v.Kind() == value.KindString {
		if oid, err := primitive.ObjectIDFromHex(v.Str()); err == nil {
			return oid
		}
	}
	return v.Interface()
}

func idString(id any) string {
	if oid, ok := id.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(id)
}

// resolveIDs looks up the _id of keys under the names the table had before
// the transaction.
func (v *mongoStep) resolveIDs(table catalog.TableDescriptor, keys []int64) (map[int64]any, error) {
	prior, err := v.before.Table(table.UUID)
	if err != nil {
		return nil, nil
	}
	if _, ok := prior.ColumnByName(source.IDField); !ok {
		v.logger.WithField("table", table.Name).Warn("Table has no _id column, skipping row changes")
		return nil, nil
	}
	resolved, err := v.resolver.Resolve(v.ctx, v.tx.LogicalTimestamp-1, prior.Name, []string{source.IDField}, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ids of %s: %w", prior.Name, err)
	}
	ids := make(map[int64]any, len(resolved))
	for key, values := range resolved {
		ids[key] = documentID(values[0])
	}
	return ids, nil
}

func (v *mongoStep) skipMissing(collection string, key int64) {
	v.logger.WithFields(logrus.Fields{"collection": collection, "key": key, "transaction": v.tx.ID}).
		Warn("No document id found for row, skipping")
}

func (v *mongoStep) VisitInsertRows(m *mutation.InsertRows) error {
	table, collection, ok, err := v.target(m.TableUUID)
	if err != nil || !ok {
		return err
	}
	columns, err := columnsOf(table, m.ColumnMapping)
	if err != nil {
		return err
	}
	if err := checkRows(m.Rows, len(columns)); err != nil {
		return err
	}

	docs := make([]any, len(m.Rows))
	generated := make([]bool, len(m.Rows))
	for i, row := range m.Rows {
		doc, id := document(columns, row)
		if id.IsNull() {
			generated[i] = true
		} else {
			doc = append(bson.D{{Key: source.IDField, Value: documentID(id)}}, doc...)
		}
		docs[i] = doc
	}

	coll := v.db.Collection(collection)
	result := executor.CreateInChunks(v.ctx, v.logger, docs, v.chunkSize, func(ctx context.Context, chunk []any) ([]string, error) {
		res, err := coll.InsertMany(ctx, chunk)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(res.InsertedIDs))
		for i, id := range res.InsertedIDs {
			ids[i] = idString(id)
		}
		return ids, nil
	})

	backfill := make(map[int64]string)
	for i, row := range m.Rows {
		if generated[i] && result.IDs[i] != "" {
			backfill[row.Key] = result.IDs[i]
		}
	}
	if v.backfill != nil && len(backfill) > 0 {
		if err := v.backfill.BackfillIDs(v.ctx, table.Name, source.IDField, backfill); err != nil {
			return fmt.Errorf("failed to backfill ids of %s: %w", table.Name, err)
		}
	}

	v.logger.WithFields(logrus.Fields{"collection": collection, "created": result.Created(), "failed_chunks": len(result.Failed)}).
		Debug("Documents inserted")
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d of %d documents were not created in %s: %w", len(docs)-result.Created(), len(docs), collection, result.Failed[0])
	}
	return nil
}

func (v *mongoStep) VisitUpdateRows(m *mutation.UpdateRows) error {
	table, collection, ok, err := v.target(m.TableUUID)
	if err != nil || !ok {
		return err
	}
	columns, err := columnsOf(table, m.ColumnMapping)
	if err != nil {
		return err
	}
	if err := checkRows(m.Rows, len(columns)); err != nil {
		return err
	}
	if len(m.Rows) == 0 {
		return nil
	}

	keys := make([]int64, len(m.Rows))
	for i, row := range m.Rows {
		keys[i] = row.Key
	}
	ids, err := v.resolveIDs(table, keys)
	if err != nil {
		return err
	}

	coll := v.db.Collection(collection)
	for _, row := range m.Rows {
		doc, _ := document(columns, row)
		if len(doc) == 0 {
			continue
		}
		id, ok := ids[row.Key]
		if !ok {
			v.skipMissing(collection, row.Key)
			continue
		}
		res, err := coll.UpdateOne(v.ctx, bson.D{{Key: source.IDField, Value: id}}, bson.D{{Key: "$set", Value: doc}})
		if err != nil {
			return fmt.Errorf("failed to update document %v in %s: %w", id, collection, err)
		}
		if res.MatchedCount == 0 {
			v.skipMissing(collection, row.Key)
		}
	}
	return nil
}

func (v *mongoStep) VisitDeleteRows(m *mutation.DeleteRows) error {
	table, collection, ok, err := v.target(m.TableUUID)
	if err != nil || !ok || len(m.Keys) == 0 {
		return err
	}
	ids, err := v.resolveIDs(table, m.Keys)
	if err != nil {
		return err
	}

	var keys []int64
	for _, key := range m.Keys {
		if _, ok := ids[key]; !ok {
			v.skipMissing(collection, key)
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	values := make(bson.A, len(keys))
	for i, key := range keys {
		values[i] = ids[key]
	}

	res, err := v.db.Collection(collection).DeleteMany(v.ctx, bson.D{{Key: source.IDField, Value: bson.D{{Key: "$in", Value: values}}}})
	if err != nil {
		return fmt.Errorf("failed to delete documents from %s: %w", collection, err)
	}
	v.logger.WithFields(logrus.Fields{"collection": collection, "deleted": res.DeletedCount}).Debug("Documents deleted")
	return nil
}

// Collections are schemaless; structural changes need no writes.
func (v *mongoStep) VisitAddColumn(*mutation.AddColumn) error                       { return nil }
func (v *mongoStep) VisitDropColumn(*mutation.DropColumn) error                     { return nil }
func (v *mongoStep) VisitRenameColumn(*mutation.RenameColumn) error                 { return nil }
func (v *mongoStep) VisitChangeColumnNullable(*mutation.ChangeColumnNullable) error { return nil }
func (v *mongoStep) VisitCreateTable(*mutation.CreateTable) error                   { return nil }
func (v *mongoStep) VisitDropTable(*mutation.DropTable) error                       { return nil }
func (v *mongoStep) VisitRenameTable(*mutation.RenameTable) error                   { return nil }
func (v *mongoStep) VisitSetTableAnnotation(*mutation.SetTableAnnotation) error     { return nil }
func (v *mongoStep) VisitSetColumnAnnotation(*mutation.SetColumnAnnotation) error   { return nil }
func (v *mongoStep) VisitReorderColumns(*mutation.ReorderColumns) error             { return nil }
