package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quotecache/internal/store"
	"quotecache/pkg/calendar"
	"quotecache/pkg/market"
)

// mongoTx issues operations with whatever ctx it is handed; inside
// Transact that ctx is the session context.
type mongoTx struct {
	store *Store
}

func (t *mongoTx) coll(name string) *mongo.Collection {
	return t.store.db.Collection(name)
}

func (t *mongoTx) Get(ctx context.Context, key store.SeriesKey, dates []calendar.Date) (map[calendar.Date]market.Bar, error) {
	out := make(map[calendar.Date]market.Bar, len(dates))
	lo, hi, ok := store.Bounds(dates)
	if !ok {
		return out, nil
	}
	cur, err := t.coll(barsCollection).Find(ctx, rangeFilter(key, lo, hi))
	if err != nil {
		return nil, store.Wrap("get bars", err)
	}
	var docs []barDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, store.Wrap("get bars", err)
	}
	want := store.DateSet(dates)
	for _, doc := range docs {
		bar, err := doc.bar()
		if err != nil {
			return nil, store.Wrap("decode bar", err)
		}
		if _, ok := want[bar.TradeDate]; ok {
			out[bar.TradeDate] = bar
		}
	}
	return out, nil
}

func (t *mongoTx) Upsert(ctx context.Context, key store.SeriesKey, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	now := t.store.now().UTC()
	models := make([]mongo.WriteModel, 0, len(bars))
	for _, bar := range bars {
		doc, err := newBarDoc(key, bar, now)
		if err != nil {
			return 0, store.Wrap("encode bar", err)
		}
		filter := bson.M{"asset_id": doc.AssetID, "adjust": doc.Adjust, "trade_date": doc.TradeDate}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$setOnInsert": doc}).
			SetUpsert(true))
	}
	res, err := t.coll(barsCollection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, store.Wrap("upsert bars", err)
	}
	return int(res.UpsertedCount), nil
}

func (t *mongoTx) MarkNoData(ctx context.Context, key store.SeriesKey, dates []calendar.Date, reason string) error {
	if len(dates) == 0 {
		return nil
	}
	now := t.store.now().UTC()
	models := make([]mongo.WriteModel, 0, len(dates))
	for _, d := range dates {
		doc := gapDoc{
			AssetID:    key.AssetID,
			Adjust:     string(key.Adjust.OrNone()),
			TradeDate:  d.String(),
			Reason:     reason,
			RecordedAt: now,
		}
		filter := bson.M{"asset_id": doc.AssetID, "adjust": doc.Adjust, "trade_date": doc.TradeDate}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$setOnInsert": doc}).
			SetUpsert(true))
	}
	if _, err := t.coll(gapsCollection).BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return store.Wrap("mark no data", err)
	}
	return nil
}

func (t *mongoTx) Coverage(ctx context.Context, key store.SeriesKey, tradingDates []calendar.Date) (store.Coverage, error) {
	lo, hi, ok := store.Bounds(tradingDates)
	if !ok {
		return store.Coverage{}, nil
	}
	projection := options.Find().SetProjection(bson.M{"trade_date": 1, "_id": 0})
	cur, err := t.coll(barsCollection).Find(ctx, rangeFilter(key, lo, hi), projection)
	if err != nil {
		return store.Coverage{}, store.Wrap("coverage bars", err)
	}
	var barRows []struct {
		TradeDate string `bson:"trade_date"`
	}
	if err := cur.All(ctx, &barRows); err != nil {
		return store.Coverage{}, store.Wrap("coverage bars", err)
	}
	bars := make(map[calendar.Date]struct{}, len(barRows))
	for _, row := range barRows {
		if d, err := calendar.ParseDate(row.TradeDate); err == nil {
			bars[d] = struct{}{}
		}
	}
	gapDocs, err := t.findGaps(ctx, key, lo, hi)
	if err != nil {
		return store.Coverage{}, err
	}
	marks := make(map[calendar.Date]struct{}, len(gapDocs))
	for _, doc := range gapDocs {
		if d, err := calendar.ParseDate(doc.TradeDate); err == nil {
			marks[d] = struct{}{}
		}
	}
	return store.ComputeCoverage(tradingDates, bars, marks), nil
}

func (t *mongoTx) findGaps(ctx context.Context, key store.SeriesKey, from, to calendar.Date) ([]gapDoc, error) {
	opts := options.Find().SetSort(bson.D{{Key: "trade_date", Value: 1}})
	cur, err := t.coll(gapsCollection).Find(ctx, rangeFilter(key, from, to), opts)
	if err != nil {
		return nil, store.Wrap("find marks", err)
	}
	var docs []gapDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, store.Wrap("find marks", err)
	}
	return docs, nil
}
