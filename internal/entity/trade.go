package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

type Trade struct {
	Symbol       string          `json:"symbol"`
	Operation    string          `json:"operation"`
	Time         string          `json:"time"`
	Price        decimal.Decimal `json:"price"`
	BuyerBroker  null.Int        `json:"buyerBroker"`
	SellerBroker null.Int        `json:"sellerBroker"`
	Volume       int64           `json:"volume"`
	TradeID      string          `json:"tradeId"`
	Condition    string          `json:"condition"`
	Aggressor    string          `json:"aggressor"`
	Timestamp    time.Time       `json:"timestamp"`
	Raw          string          `json:"-"`
}

func (t *Trade) Kind() MessageKind {
	return MessageKindTrade
}

func (t *Trade) GetSymbol() string {
	return t.Symbol
}

// TradeView is the cached, client-facing form of a trade.
type TradeView struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
	Side      TradeSide       `json:"side"`
	TradeID   string          `json:"tradeId"`
}

type TickRecord struct {
	ID           int64           `json:"id" db:"id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Timestamp    int64           `json:"timestamp" db:"timestamp"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Volume       int64           `json:"volume" db:"volume"`
	Side         TradeSide       `json:"side" db:"side"`
	Aggressor    bool            `json:"aggressor" db:"aggressor"`
	TradeID      string          `json:"tradeId" db:"trade_id"`
	TradeTime    null.String     `json:"tradeTime" db:"trade_time"`
	BrokerBuyer  null.Int        `json:"brokerBuyer" db:"broker_buyer"`
	BrokerSeller null.Int        `json:"brokerSeller" db:"broker_seller"`
	CreatedAt    int64           `json:"createdAt" db:"created_at"`
}

func (TickRecord) TableName() string {
	return "historical_ticks"
}

func (t TickRecord) ToTradeView() TradeView {
	return TradeView{
		Symbol:    t.Symbol,
		Timestamp: t.Timestamp,
		Price:     t.Price,
		Volume:    t.Volume,
		Side:      t.Side,
		TradeID:   t.TradeID,
	}
}
