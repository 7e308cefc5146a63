package entity

import "time"

type SubscriptionKind string

const (
	SubscriptionKindQuote          SubscriptionKind = "quote"
	SubscriptionKindBook           SubscriptionKind = "book"
	SubscriptionKindTrades         SubscriptionKind = "trades"
	SubscriptionKindAggregatedBook SubscriptionKind = "aggregatedBook"
	SubscriptionKindVAP            SubscriptionKind = "vap"
)

const (
	TradeOrderAsc  = "ASC"
	TradeOrderDesc = "DESC"
)

type SubscriptionParams struct {
	Snapshot bool   `json:"snapshot,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	TradeID  string `json:"tradeId,omitempty"`
	Order    string `json:"order,omitempty"`
	Period   int    `json:"period,omitempty"`
}

type Subscription struct {
	ID        string             `json:"id"`
	Symbol    string             `json:"symbol"`
	Kind      SubscriptionKind   `json:"type"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"subscribedAt"`
	Params    SubscriptionParams `json:"parameters"`
	Command   string             `json:"command"`
}

type SubscriptionStats struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	Inactive int            `json:"inactive"`
	ByType   map[string]int `json:"byType"`
}
