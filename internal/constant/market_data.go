package constant

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProductionEnvironment  = "production"
	DevelopmentEnvironment = "development"
)

const (
	MarketDataDatabase = "market_data"
	CacheRedis         = "cache"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

const (
	MarketDataStreamName       = "market_data"
	MarketDataStreamSubjectAll = "market_data.>"
	MarketDataKafkaTopic       = "market-data"
)

// Cache keys and lifetimes.
const (
	QuoteCachePrefix  = "quote"
	BookCachePrefix   = "book"
	TradesCachePrefix = "trades"

	QuoteCacheTTL     = 1 * time.Second
	BookCacheTTL      = 500 * time.Millisecond
	TradesCacheTTL    = 300 * time.Second
	TradesCacheMaxLen = 1000
)

// Event types as seen by downstream clients.
const (
	EventTypeQuote       = "quote"
	EventTypeTrades      = "trades"
	EventTypeBook        = "book"
	EventTypeSystemStats = "systemStats"
	EventTypeSystemMsg   = "systemMessage"
	EventTypeMarketState = "marketStatus"
)

func CacheKey(prefix, symbol string) string {
	return fmt.Sprintf("%s:%s", prefix, symbol)
}

// GetMarketDataStreamSubject builds market_data.<type>.<symbol>.
func GetMarketDataStreamSubject(eventType, symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		symbol = "_"
	}
	return fmt.Sprintf("%s.%s.%s", MarketDataStreamName, eventType, strings.ReplaceAll(symbol, ".", "_"))
}
