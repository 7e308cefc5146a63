package constant

const (
	ChannelKindQuotes    = "quotes"
	ChannelKindTrades    = "trades"
	ChannelKindBook      = "book"
	ChannelKindOrderFlow = "orderflow"
	ChannelKindFootprint = "footprint"
	ChannelKindSystem    = "system"

	ChannelWildcard = "*"
)

// Client message types.
const (
	ClientMessageAuth        = "auth"
	ClientMessageSubscribe   = "subscribe"
	ClientMessageUnsubscribe = "unsubscribe"
	ClientMessagePing        = "ping"
)

// Server message types.
const (
	ServerMessageWelcome      = "welcome"
	ServerMessageAuthSuccess  = "authSuccess"
	ServerMessageError        = "error"
	ServerMessageSubscribed   = "subscribed"
	ServerMessageUnsubscribed = "unsubscribed"
	ServerMessagePong         = "pong"
)

// Client-facing error codes.
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeMissingToken     = "MISSING_TOKEN"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeNotAuthenticated = "NOT_AUTHENTICATED"
	ErrCodeMissingChannel   = "MISSING_CHANNEL"
	ErrCodeInvalidChannel   = "INVALID_CHANNEL"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeUnknownType      = "UNKNOWN_TYPE"
)

const (
	PermissionAll  = "*"
	PermissionRead = "read"

	ServerVersion = "1.0.0"
	DevUserID     = "dev-trader"
	DevUsername   = "trader"
)

var DefaultPermissions = []string{"read", "subscribe"}

var ChannelPermissions = map[string]string{
	ChannelKindQuotes:    "read:quotes",
	ChannelKindTrades:    "read:trades",
	ChannelKindOrderFlow: "read:orderflow",
	ChannelKindFootprint: "read:footprint",
	ChannelKindBook:      "read:book",
	ChannelKindSystem:    "read:system",
}
