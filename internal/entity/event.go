package entity

import "context"

type Publisher interface {
	JetstreamEventInit(ctx context.Context) error
}

// MarketEvent is a processed feed event handed to downstream sinks.
type MarketEvent struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

type MarketEventSink interface {
	PublishMarketEvent(ctx context.Context, event MarketEvent) error
}

type MarketEventRetry struct {
	RetryCount int         `json:"retry"`
	Data       MarketEvent `json:"data"`
}
