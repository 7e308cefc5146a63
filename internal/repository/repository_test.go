package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/krobus00/market-gateway/migration"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := infrastructure.NewSQLiteConnection(context.Background(), config.DatabaseConfig{
		Driver: constant.DriverSQLite,
		DSN:    ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migration.Up(db.DB, constant.DriverSQLite, constant.MarketDataDatabase))
	return db
}

func tick(symbol string, ts int64, price string, tradeID string) entity.TickRecord {
	return entity.TickRecord{
		Symbol:       symbol,
		Timestamp:    ts,
		Price:        decimal.RequireFromString(price),
		Volume:       100,
		Side:         entity.TradeSideBuy,
		Aggressor:    true,
		TradeID:      tradeID,
		TradeTime:    null.StringFrom("093000"),
		BrokerBuyer:  null.IntFrom(3),
		BrokerSeller: null.IntFrom(8),
		CreatedAt:    ts,
	}
}

func TestTickRepository_InsertAndRead(t *testing.T) {
	ctx := context.Background()
	repo := NewTickRepository(newTestDB(t))

	require.NoError(t, repo.InsertTicksBatch(ctx, []entity.TickRecord{
		tick("ABC", 1000, "10.50", "T1"),
		tick("ABC", 2000, "10.55", "T2"),
		tick("ABC", 2000, "10.60", "T3"),
		tick("XYZ", 1500, "5.00", "X1"),
	}))

	ticks, err := repo.GetTicksByPeriod(ctx, "ABC", 0, 5000)
	require.NoError(t, err)
	require.Len(t, ticks, 3)
	assert.Equal(t, []string{"T1", "T2", "T3"}, []string{ticks[0].TradeID, ticks[1].TradeID, ticks[2].TradeID})
	assert.True(t, ticks[1].Price.Equal(decimal.RequireFromString("10.55")))
	assert.Equal(t, entity.TradeSideBuy, ticks[0].Side)
	assert.True(t, ticks[0].Aggressor)
	assert.Equal(t, int64(3), ticks[0].BrokerBuyer.Int64)

	last, err := repo.GetLastTicks(ctx, "ABC", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "T3", last[0].TradeID)
	assert.Equal(t, "T2", last[1].TradeID)

	count, err := repo.CountTicks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestTickRepository_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	repo := NewTickRepository(newTestDB(t))

	bad := tick("ABC", 2000, "10.55", "T2")
	bad.Side = "HOLD"

	err := repo.InsertTicksBatch(ctx, []entity.TickRecord{tick("ABC", 1000, "10.50", "T1"), bad})
	require.Error(t, err)

	count, err := repo.CountTicks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTickRepository_LargeBatchIsChunked(t *testing.T) {
	ctx := context.Background()
	repo := NewTickRepository(newTestDB(t))

	ticks := make([]entity.TickRecord, 0, 1200)
	for i := range 1200 {
		ticks = append(ticks, tick("ABC", int64(i), "1.00", "T"))
	}
	require.NoError(t, repo.InsertTicksBatch(ctx, ticks))

	count, err := repo.CountTicks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), count)
}

func TestTickRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := NewTickRepository(newTestDB(t))

	require.NoError(t, repo.InsertTicksBatch(ctx, []entity.TickRecord{
		tick("ABC", 1000, "10.50", "T1"),
		tick("ABC", 2000, "10.55", "T2"),
		tick("ABC", 3000, "10.60", "T3"),
	}))

	deleted, err := repo.DeleteOlderThan(ctx, 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	require.NoError(t, repo.Vacuum(ctx))

	remaining, err := repo.GetLastTicks(ctx, "ABC", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "T3", remaining[0].TradeID)
}

func TestQuoteRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repo := NewQuoteRepository(newTestDB(t))

	missing, err := repo.GetLatestQuote(ctx, "ABC")
	require.NoError(t, err)
	assert.Nil(t, missing)

	first := entity.QuoteSnapshot{
		Symbol:    "ABC",
		Timestamp: 1000,
		LastPrice: decimal.NewNullDecimal(decimal.RequireFromString("10.50")),
		Volume:    null.IntFrom(300),
	}
	require.NoError(t, repo.UpsertQuotes(ctx, []entity.QuoteSnapshot{first}))

	second := first
	second.Timestamp = 2000
	second.LastPrice = decimal.NewNullDecimal(decimal.RequireFromString("10.70"))
	second.BidPrice = decimal.NewNullDecimal(decimal.RequireFromString("10.60"))
	require.NoError(t, repo.UpsertQuotes(ctx, []entity.QuoteSnapshot{second}))

	got, err := repo.GetLatestQuote(ctx, "ABC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2000), got.Timestamp)
	assert.True(t, got.LastPrice.Decimal.Equal(decimal.RequireFromString("10.70")))
	assert.True(t, got.BidPrice.Valid)
	assert.False(t, got.AskPrice.Valid)
	assert.Equal(t, int64(300), got.Volume.Int64)

	count, err := repo.CountSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryCache_TTLAndLists(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	t.Cleanup(func() { _ = cache.Close() })

	require.NoError(t, cache.SetWithTTL(ctx, "quote:ABC", []byte("q"), 50*time.Millisecond))
	got, err := cache.Get(ctx, "quote:ABC")
	require.NoError(t, err)
	assert.Equal(t, []byte("q"), got)

	require.Eventually(t, func() bool {
		_, err := cache.Get(ctx, "quote:ABC")
		return errors.Is(err, ErrCacheMiss)
	}, time.Second, 10*time.Millisecond)

	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, cache.PushCapped(ctx, "trades:ABC", []byte(v), 3, time.Minute))
	}

	items, err := cache.RangeList(ctx, "trades:ABC", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("4"), []byte("3"), []byte("2")}, items)

	items, err = cache.RangeList(ctx, "trades:ABC", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("4")}, items)

	keys, err := cache.CountKeys(ctx, "trades:")
	require.NoError(t, err)
	assert.Equal(t, int64(1), keys)

	require.NoError(t, cache.PushCapped(ctx, "trades:XYZ", []byte("1"), 3, 50*time.Millisecond))
	require.Eventually(t, func() bool {
		items, err := cache.RangeList(ctx, "trades:XYZ", 0, -1)
		return err == nil && len(items) == 0
	}, time.Second, 10*time.Millisecond)

	_, err = cache.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cache := NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = cache.Close() })

	return cache, mr
}

func TestRedisCache_TTLAndLists(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestRedisCache(t)
	require.NoError(t, cache.Ping(ctx))

	require.NoError(t, cache.SetWithTTL(ctx, "quote:ABC", []byte("q"), time.Second))
	got, err := cache.Get(ctx, "quote:ABC")
	require.NoError(t, err)
	assert.Equal(t, []byte("q"), got)

	mr.FastForward(time.Second)
	_, err = cache.Get(ctx, "quote:ABC")
	assert.ErrorIs(t, err, ErrCacheMiss)

	for _, v := range []string{"1", "2", "3", "4"} {
		require.NoError(t, cache.PushCapped(ctx, "trades:ABC", []byte(v), 3, time.Minute))
	}

	items, err := cache.RangeList(ctx, "trades:ABC", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("4"), []byte("3"), []byte("2")}, items)
	assert.Equal(t, time.Minute, mr.TTL("trades:ABC"))

	require.NoError(t, cache.SetWithTTL(ctx, "book:ABC", []byte("b"), time.Minute))
	require.NoError(t, cache.SetWithTTL(ctx, "book:ABC:agg", []byte("b"), time.Minute))
	keys, err := cache.CountKeys(ctx, "book:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), keys)

	mr.FastForward(time.Minute)
	items, err = cache.RangeList(ctx, "trades:ABC", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, items)
}
