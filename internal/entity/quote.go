package entity

import (
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Quote carries only the fields present in the feed line; absent fields stay invalid.
type Quote struct {
	Symbol            string              `json:"symbol"`
	Timestamp         string              `json:"timestamp"`
	LastPrice         decimal.NullDecimal `json:"lastPrice"`
	BidPrice          decimal.NullDecimal `json:"bidPrice"`
	AskPrice          decimal.NullDecimal `json:"askPrice"`
	LastTradeTime     null.String         `json:"lastTradeTime"`
	CurrentVolume     null.Int            `json:"currentVolume"`
	LastVolume        null.Int            `json:"lastVolume"`
	TotalTrades       null.Int            `json:"totalTrades"`
	AccumulatedVolume null.Int            `json:"accumulatedVolume"`
	FinancialVolume   decimal.NullDecimal `json:"financialVolume"`
	HighPrice         decimal.NullDecimal `json:"highPrice"`
	LowPrice          decimal.NullDecimal `json:"lowPrice"`
	PreviousClose     decimal.NullDecimal `json:"previousClose"`
	OpenPrice         decimal.NullDecimal `json:"openPrice"`
	BidTime           null.String         `json:"bidTime"`
	AskTime           null.String         `json:"askTime"`
	BidVolume         null.Int            `json:"bidVolume"`
	AskVolume         null.Int            `json:"askVolume"`
	Variation         decimal.NullDecimal `json:"variation"`
	MarketCode        null.Int            `json:"marketCode"`
	AssetType         null.Int            `json:"assetType"`
	StandardLot       null.Int            `json:"standardLot"`
	Description       null.String         `json:"description"`
	Status            null.Int            `json:"status"`
	Raw               string              `json:"-"`
}

func (q *Quote) Kind() MessageKind {
	return MessageKindQuote
}

func (q *Quote) GetSymbol() string {
	return q.Symbol
}

// QuoteSnapshot is the hot view of a symbol's latest quote, cached and persisted.
type QuoteSnapshot struct {
	Symbol    string              `json:"symbol" db:"symbol"`
	Timestamp int64               `json:"timestamp" db:"timestamp"`
	LastPrice decimal.NullDecimal `json:"lastPrice" db:"last_price"`
	BidPrice  decimal.NullDecimal `json:"bidPrice" db:"bid_price"`
	AskPrice  decimal.NullDecimal `json:"askPrice" db:"ask_price"`
	Volume    null.Int            `json:"volume" db:"volume"`
	Change    decimal.NullDecimal `json:"change" db:"price_change"`
}

func (QuoteSnapshot) TableName() string {
	return "latest_quotes"
}

// Merge overlays the valid fields of q onto the snapshot.
func (s *QuoteSnapshot) Merge(q *Quote, timestamp int64) {
	s.Symbol = q.Symbol
	s.Timestamp = timestamp
	if q.LastPrice.Valid {
		s.LastPrice = q.LastPrice
	}
	if q.BidPrice.Valid {
		s.BidPrice = q.BidPrice
	}
	if q.AskPrice.Valid {
		s.AskPrice = q.AskPrice
	}
	if q.CurrentVolume.Valid {
		s.Volume = q.CurrentVolume
	}
	if q.Variation.Valid {
		s.Change = q.Variation
	}
}
