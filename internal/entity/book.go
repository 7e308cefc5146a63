package entity

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type BookOperationType string

const (
	BookOperationAdd    BookOperationType = "A"
	BookOperationUpdate BookOperationType = "U"
	BookOperationDelete BookOperationType = "D"
	BookOperationError  BookOperationType = "E"
)

const (
	BookSideBuy  = "A"
	BookSideSell = "V"
)

// BookOperation is one book delta. Fields the line did not carry stay invalid.
type BookOperation struct {
	Symbol     string              `json:"symbol"`
	Operation  BookOperationType   `json:"operation"`
	Aggregated bool                `json:"aggregated"`
	Position   null.Int            `json:"position"`
	Side       null.String         `json:"side"`
	Price      decimal.NullDecimal `json:"price"`
	Volume     null.Int            `json:"volume"`
	Broker     null.Int            `json:"broker"`
	Datetime   null.String         `json:"datetime"`
	OrderID    null.String         `json:"orderId"`
	OrderType  null.String         `json:"orderType"`
	Timestamp  time.Time           `json:"timestamp"`
	Raw        string              `json:"-"`
}

func (b *BookOperation) Kind() MessageKind {
	if b.Aggregated {
		return MessageKindAggregatedBook
	}
	return MessageKindBook
}

func (b *BookOperation) GetSymbol() string {
	return b.Symbol
}

type BookLevel struct {
	Position int64           `json:"position"`
	Price    decimal.Decimal `json:"price"`
	Volume   int64           `json:"volume"`
	Broker   int64           `json:"broker,omitempty"`
}

type BookSnapshot struct {
	Symbol     string      `json:"symbol"`
	Aggregated bool        `json:"aggregated"`
	Timestamp  int64       `json:"timestamp"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
}
