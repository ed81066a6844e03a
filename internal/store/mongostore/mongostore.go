// Package mongostore persists bars in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

func init() {
	store.Register("mongo", func(ctx context.Context, cfg store.Config, deps store.Deps) (store.Backend, error) {
		s, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

var _ store.Backend = (*Store)(nil)

const (
	assetsCollection   = "assets"
	barsCollection     = "price_bars"
	gapsCollection     = "price_gaps"
	countersCollection = "counters"
)

// Store implements store.Backend on MongoDB. Transactions need a replica
// set; on a standalone server Transact runs fn without atomicity.
type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
	now          func() time.Time
}

// Open connects to cfg.DSN and ensures indexes.
func Open(ctx context.Context, cfg store.Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mongostore: dsn is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	dbName := cfg.Database
	if dbName == "" {
		dbName = "quotecache"
	}
	s := &Store{client: client, db: client.Database(dbName), now: time.Now}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	s.transactions = supportsTransactions(ctx, s.db)
	logx.WithContext(ctx).Infof("mongostore: ready database=%s transactions=%t", dbName, s.transactions)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	seriesKey := bson.D{{Key: "asset_id", Value: 1}, {Key: "adjust", Value: 1}, {Key: "trade_date", Value: 1}}
	indexes := map[string]mongo.IndexModel{
		assetsCollection: {Keys: bson.D{{Key: "symbol", Value: 1}}, Options: options.Index().SetUnique(true)},
		barsCollection:   {Keys: seriesKey, Options: options.Index().SetUnique(true)},
		gapsCollection:   {Keys: seriesKey, Options: options.Index().SetUnique(true)},
	}
	for coll, idx := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, idx); err != nil {
			return fmt.Errorf("mongostore: index %s: %w", coll, err)
		}
	}
	return nil
}

func supportsTransactions(ctx context.Context, db *mongo.Database) bool {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return false
	}
	return hello.SetName != "" || hello.Msg == "isdbgrid"
}

// Get implements store.Tx.
func (s *Store) Get(ctx context.Context, key store.SeriesKey, dates []calendar.Date) (map[calendar.Date]market.Bar, error) {
	return s.tx().Get(ctx, key, dates)
}

// Upsert implements store.Tx.
func (s *Store) Upsert(ctx context.Context, key store.SeriesKey, bars []market.Bar) (int, error) {
	return s.tx().Upsert(ctx, key, bars)
}

// MarkNoData implements store.Tx.
func (s *Store) MarkNoData(ctx context.Context, key store.SeriesKey, dates []calendar.Date, reason string) error {
	return s.tx().MarkNoData(ctx, key, dates, reason)
}

// Coverage implements store.Tx.
func (s *Store) Coverage(ctx context.Context, key store.SeriesKey, tradingDates []calendar.Date) (store.Coverage, error) {
	return s.tx().Coverage(ctx, key, tradingDates)
}

// Transact implements store.Store.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if !s.transactions {
		return fn(ctx, s.tx())
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return store.Wrap("start session", err)
	}
	defer sess.EndSession(ctx)

	var fnErr error
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		fnErr = fn(sc, s.tx())
		return nil, fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return store.Wrap("transact", err)
}

// Close implements store.Store.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ResolveOrCreate implements store.AssetRegistry. Ids come from a counters
// document so they stay small integers like the SQL backends.
func (s *Store) ResolveOrCreate(ctx context.Context, symbol string) (store.Asset, error) {
	asset, err := s.Lookup(ctx, symbol)
	if !errors.Is(err, store.ErrAssetNotFound) {
		return asset, err
	}
	id, err := s.nextID(ctx, assetsCollection)
	if err != nil {
		return store.Asset{}, store.Wrap("asset id", err)
	}
	key := store.NormalizeSymbol(symbol)
	doc := assetDoc{ID: id, Symbol: key, Name: key, CreatedAt: s.now().UTC().Truncate(time.Millisecond)}
	_, err = s.db.Collection(assetsCollection).InsertOne(ctx, doc)
	switch {
	case err == nil:
		logx.WithContext(ctx).Infof("mongostore: registered asset symbol=%s id=%d", key, id)
		return doc.asset(), nil
	case mongo.IsDuplicateKeyError(err):
		return s.Lookup(ctx, key)
	default:
		return store.Asset{}, store.Wrap("create asset", err)
	}
}

// Lookup implements store.AssetRegistry.
func (s *Store) Lookup(ctx context.Context, symbol string) (store.Asset, error) {
	var doc assetDoc
	err := s.db.Collection(assetsCollection).FindOne(ctx, bson.M{"symbol": store.NormalizeSymbol(symbol)}).Decode(&doc)
	switch {
	case err == nil:
		return doc.asset(), nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return store.Asset{}, store.ErrAssetNotFound
	default:
		return store.Asset{}, store.Wrap("lookup asset", err)
	}
}

func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

// Purge implements store.Purger.
func (s *Store) Purge(ctx context.Context, key store.SeriesKey, from, to calendar.Date) (store.PurgeResult, error) {
	var res store.PurgeResult
	err := s.Transact(ctx, func(ctx context.Context, _ store.Tx) error {
		filter := rangeFilter(key, from, to)
		bars, err := s.db.Collection(barsCollection).DeleteMany(ctx, filter)
		if err != nil {
			return store.Wrap("purge bars", err)
		}
		gaps, err := s.db.Collection(gapsCollection).DeleteMany(ctx, filter)
		if err != nil {
			return store.Wrap("purge marks", err)
		}
		res = store.PurgeResult{Bars: bars.DeletedCount, Marks: gaps.DeletedCount}
		return nil
	})
	return res, err
}

// Marks implements store.MarkLister.
func (s *Store) Marks(ctx context.Context, key store.SeriesKey, from, to calendar.Date) ([]store.NoDataMark, error) {
	docs, err := s.tx().findGaps(ctx, key, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]store.NoDataMark, 0, len(docs))
	for _, doc := range docs {
		d, err := calendar.ParseDate(doc.TradeDate)
		if err != nil {
			return nil, store.Wrap("decode mark", err)
		}
		out = append(out, store.NoDataMark{TradeDate: d, Reason: doc.Reason, RecordedAt: doc.RecordedAt.UTC()})
	}
	return out, nil
}

func (s *Store) tx() *mongoTx {
	return &mongoTx{store: s}
}

func rangeFilter(key store.SeriesKey, from, to calendar.Date) bson.M {
	return bson.M{
		"asset_id":   key.AssetID,
		"adjust":     string(key.Adjust.OrNone()),
		"trade_date": bson.M{"$gte": from.String(), "$lte": to.String()},
	}
}
