package entity

import "github.com/goccy/go-json"

// ServerMessage is the envelope of every frame sent to a downstream client.
type ServerMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

type ClientMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

type ChannelPayload struct {
	Channel string `json:"channel"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ChannelBatch struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
	Count   int    `json:"count"`
}

type Principal struct {
	UserID      string   `json:"userId"`
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions"`
}

type ServerStats struct {
	IsRunning            bool  `json:"isRunning"`
	TotalClients         int   `json:"totalClients"`
	AuthenticatedClients int   `json:"authenticatedClients"`
	TotalSubscriptions   int   `json:"totalSubscriptions"`
	UptimeMillis         int64 `json:"uptime"`
}

type BroadcasterStats struct {
	MessagesSent     int64 `json:"messagesSent"`
	MessagesQueued   int64 `json:"messagesQueued"`
	MessagesDropped  int64 `json:"messagesDropped"`
	ChannelsActive   int   `json:"channelsActive"`
	ActiveThrottles  int   `json:"activeThrottles"`
	SubscribersTotal int   `json:"subscribersTotal"`
}

type PipelineStats struct {
	MessagesProcessed int64 `json:"messagesProcessed"`
	TicksStored       int64 `json:"ticksStored"`
	TicksDropped      int64 `json:"ticksDropped"`
	CacheHits         int64 `json:"cacheHits"`
	CacheMisses       int64 `json:"cacheMisses"`
	BatchesProcessed  int64 `json:"batchesProcessed"`
	Errors            int64 `json:"errors"`
	TickBuffer        int   `json:"tickBuffer"`
	QuoteBuffer       int   `json:"quoteBuffer"`
	QueueDepth        int   `json:"queueDepth"`
}

type StorageStats struct {
	Ticks   int64 `json:"ticks"`
	Symbols int64 `json:"symbols"`
}

type CacheStats struct {
	Quotes int64 `json:"quotes"`
	Trades int64 `json:"trades"`
	Books  int64 `json:"books"`
}

// SystemStats is the payload of the system channel snapshot.
type SystemStats struct {
	Pipeline PipelineStats `json:"dataFlow"`
	Storage  StorageStats  `json:"storage"`
	Cache    CacheStats    `json:"cache"`
}

type TradesSnapshot struct {
	Symbol string      `json:"symbol"`
	Trades []TradeView `json:"trades"`
}

type ClientInfo struct {
	ID            string   `json:"id"`
	UserID        string   `json:"userId,omitempty"`
	Authenticated bool     `json:"authenticated"`
	Subscriptions []string `json:"subscriptions"`
	ConnectedAt   int64    `json:"connectedAt"`
	LastSeen      int64    `json:"lastSeen"`
	RemoteAddr    string   `json:"remoteAddr"`
}
