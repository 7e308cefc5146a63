package entity

type FeedState string

const (
	FeedStateDisconnected   FeedState = "disconnected"
	FeedStateConnecting     FeedState = "connecting"
	FeedStateAuthenticating FeedState = "authenticating"
	FeedStateReady          FeedState = "ready"
)

// MessageKind is the leading character of a feed line.
type MessageKind string

const (
	MessageKindQuote          MessageKind = "T"
	MessageKindBook           MessageKind = "B"
	MessageKindTrade          MessageKind = "V"
	MessageKindAggregatedBook MessageKind = "Z"
	MessageKindError          MessageKind = "E"
)

// FeedMessage is a decoded feed line. Concrete types are *Quote,
// *BookOperation, *Trade and *FeedError.
type FeedMessage interface {
	Kind() MessageKind
	GetSymbol() string
}

type FeedError struct {
	Code    int    `json:"code"`
	RawCode string `json:"rawCode"`
	Message string `json:"message"`
	Raw     string `json:"-"`
}

func (e *FeedError) Kind() MessageKind {
	return MessageKindError
}

func (e *FeedError) GetSymbol() string {
	return ""
}

type FeedInfo struct {
	State             FeedState `json:"state"`
	Connected         bool      `json:"connected"`
	Authenticated     bool      `json:"authenticated"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	LastError         string    `json:"lastError,omitempty"`
}
