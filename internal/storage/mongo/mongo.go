// Package mongo is the MongoDB RecordStore. Each table maps to a collection
// and the unique indexes of storage.Schema are created at startup, partial
// ones through partialFilterExpression.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fleetcost/internal/storage"
)

var ErrNilDatabase = errors.New("mongo database is nil")

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri, pings the server and makes sure every index exists.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := &Store{client: client, db: client.Database(database)}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique indexes declared in storage.Schema.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if s.db == nil {
		return ErrNilDatabase
	}
	for name, t := range storage.Schema {
		models := make([]mongo.IndexModel, 0, len(t.Unique))
		for _, u := range t.Unique {
			keys := bson.D{}
			for _, c := range u.Columns {
				keys = append(keys, bson.E{Key: c, Value: 1})
			}
			opts := options.Index().SetName(u.Name).SetUnique(true)
			if len(u.Where) > 0 {
				opts.SetPartialFilterExpression(filterDoc(u.Where))
			}
			models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
		}
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) collection(table string) (*mongo.Collection, storage.Table, error) {
	if s.db == nil {
		return nil, storage.Table{}, ErrNilDatabase
	}
	t, err := storage.Lookup(table)
	if err != nil {
		return nil, storage.Table{}, err
	}
	return s.db.Collection(table), t, nil
}

func (s *Store) Insert(ctx context.Context, table string, row storage.Row) (storage.Row, error) {
	coll, t, err := s.collection(table)
	if err != nil {
		return nil, err
	}
	norm, err := t.Normalize(row)
	if err != nil {
		return nil, err
	}
	doc := bson.D{}
	full := make(storage.Row, len(t.Columns))
	for _, c := range t.Columns {
		full[c.Name] = norm[c.Name]
		doc = append(doc, bson.E{Key: c.Name, Value: norm[c.Name]})
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return nil, translate(err)
	}
	return full, nil
}

func (s *Store) Update(ctx context.Context, table string, patch storage.Row, where storage.Filter) (int64, error) {
	coll, t, err := s.collection(table)
	if err != nil {
		return 0, err
	}
	if err := t.CheckFilter(where); err != nil {
		return 0, err
	}
	norm, err := t.Normalize(patch)
	if err != nil {
		return 0, err
	}
	set := bson.D{}
	for k, v := range norm {
		set = append(set, bson.E{Key: k, Value: v})
	}
	res, err := coll.UpdateMany(ctx, filterDoc(where), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return 0, translate(err)
	}
	return res.MatchedCount, nil
}

func (s *Store) Delete(ctx context.Context, table string, where storage.Filter) (int64, error) {
	coll, t, err := s.collection(table)
	if err != nil {
		return 0, err
	}
	if err := t.CheckFilter(where); err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, filterDoc(where))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) Select(ctx context.Context, table string, q storage.Query) ([]storage.Row, error) {
	coll, t, err := s.collection(table)
	if err != nil {
		return nil, err
	}
	if err := t.CheckQuery(q); err != nil {
		return nil, err
	}
	cols := q.Columns
	if len(cols) == 0 {
		cols = t.ColumnNames()
	}
	projection := bson.D{{Key: "_id", Value: 0}}
	for _, c := range cols {
		projection = append(projection, bson.E{Key: c, Value: 1})
	}
	opts := options.Find().SetProjection(projection)
	if len(q.OrderBy) > 0 {
		sort := bson.D{}
		for _, o := range q.OrderBy {
			dir := 1
			if o.Desc {
				dir = -1
			}
			sort = append(sort, bson.E{Key: o.Column, Value: dir})
		}
		opts.SetSort(sort)
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := coll.Find(ctx, filterDoc(q.Where), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []storage.Row
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		row := make(storage.Row, len(cols))
		for _, name := range cols {
			col, _ := t.Column(name)
			v, err := storage.ConvertValue(col.Type, fromBSON(doc[name]))
			if err != nil {
				return nil, fmt.Errorf("column %s.%s: %w", table, name, err)
			}
			row[name] = v
		}
		out = append(out, row)
	}
	return out, cur.Err()
}

func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return ErrNilDatabase
	}
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// filterDoc translates a conjunction into a $and document. An empty filter
// matches every document.
func filterDoc(f storage.Filter) bson.D {
	if len(f) == 0 {
		return bson.D{}
	}
	clauses := make(bson.A, 0, len(f))
	for _, p := range f {
		clauses = append(clauses, predicateDoc(p))
	}
	if len(clauses) == 1 {
		return clauses[0].(bson.D)
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

func predicateDoc(p storage.Predicate) bson.D {
	v := storage.NormalizeValue(p.Value)
	switch p.Op {
	case storage.OpEq:
		if v == nil {
			return matchNothing(p.Column)
		}
		return bson.D{{Key: p.Column, Value: v}}
	case storage.OpIsNull:
		return bson.D{{Key: p.Column, Value: nil}}
	case storage.OpNotNull:
		return bson.D{{Key: p.Column, Value: bson.D{{Key: "$ne", Value: nil}}}}
	case storage.OpILike:
		sub, _ := v.(string)
		re := primitive.Regex{Pattern: regexp.QuoteMeta(sub), Options: "i"}
		return bson.D{{Key: p.Column, Value: re}}
	case storage.OpGte:
		return bson.D{{Key: p.Column, Value: bson.D{{Key: "$gte", Value: v}}}}
	case storage.OpLte:
		return bson.D{{Key: p.Column, Value: bson.D{{Key: "$lte", Value: v}}}}
	case storage.OpIn:
		raw, _ := p.Value.([]any)
		vals := make(bson.A, len(raw))
		for i, r := range raw {
			vals[i] = storage.NormalizeValue(r)
		}
		return bson.D{{Key: p.Column, Value: bson.D{{Key: "$in", Value: vals}}}}
	default:
		return matchNothing(p.Column)
	}
}

func matchNothing(col string) bson.D {
	return bson.D{{Key: col, Value: bson.D{{Key: "$in", Value: bson.A{}}}}}
}

func fromBSON(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case int32:
		return int64(x)
	default:
		return v
	}
}

func translate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return storage.UniqueViolation("", err)
	}
	return err
}
