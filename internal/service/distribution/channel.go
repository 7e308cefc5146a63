package distribution

import (
	"errors"
	"slices"
	"strings"

	"github.com/krobus00/market-gateway/internal/constant"
)

var (
	ErrMissingChannel   = errors.New("channel is required")
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrPermissionDenied = errors.New("permission denied")
)

// Channel is a downstream topic, "<kind>:<symbol>" or "<kind>:*". The system
// channel carries no symbol.
type Channel struct {
	Kind   string
	Symbol string
}

func ParseChannel(name string) (Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Channel{}, ErrMissingChannel
	}

	kind, symbol, _ := strings.Cut(name, ":")
	if _, ok := constant.ChannelPermissions[kind]; !ok {
		return Channel{}, ErrInvalidChannel
	}
	if symbol == "" && kind != constant.ChannelKindSystem {
		return Channel{}, ErrInvalidChannel
	}

	return Channel{Kind: kind, Symbol: symbol}, nil
}

func (c Channel) String() string {
	if c.Symbol == "" {
		return c.Kind
	}
	return c.Kind + ":" + c.Symbol
}

func (c Channel) IsWildcard() bool {
	return c.Symbol == constant.ChannelWildcard
}

// CanRead reports whether permissions grant access to the channel kind.
// "*" and the generic "read" permission cover every kind.
func CanRead(permissions []string, kind string) bool {
	required, ok := constant.ChannelPermissions[kind]
	if !ok {
		return false
	}

	return slices.ContainsFunc(permissions, func(p string) bool {
		return p == constant.PermissionAll || p == constant.PermissionRead || p == required
	})
}

// ChannelsForEvent lists the channels an event of eventType for symbol is fanned out to.
func ChannelsForEvent(eventType, symbol string) []string {
	var kind string
	switch eventType {
	case constant.EventTypeQuote:
		kind = constant.ChannelKindQuotes
	case constant.EventTypeTrades:
		kind = constant.ChannelKindTrades
	case constant.EventTypeBook:
		kind = constant.ChannelKindBook
	case constant.ChannelKindOrderFlow, constant.ChannelKindFootprint:
		kind = eventType
	default:
		return nil
	}

	return []string{
		Channel{Kind: kind, Symbol: symbol}.String(),
		Channel{Kind: kind, Symbol: constant.ChannelWildcard}.String(),
	}
}
