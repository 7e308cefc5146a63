package feed

import (
	"errors"
	"strings"
	"testing"

	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Quote(t *testing.T) {
	msg, err := Decode("T:ABC:093000:2:10.50:3:10.40:4:10.60!")
	require.NoError(t, err)

	quote, ok := msg.(*entity.Quote)
	require.True(t, ok)
	assert.Equal(t, "ABC", quote.Symbol)
	assert.Equal(t, "093000", quote.Timestamp)
	assert.True(t, quote.LastPrice.Decimal.Equal(decimal.RequireFromString("10.50")))
	assert.True(t, quote.BidPrice.Decimal.Equal(decimal.RequireFromString("10.40")))
	assert.True(t, quote.AskPrice.Decimal.Equal(decimal.RequireFromString("10.60")))
	assert.False(t, quote.HighPrice.Valid)
	assert.False(t, quote.CurrentVolume.Valid)
}

func TestDecode_QuoteIndexTable(t *testing.T) {
	msg, err := Decode("T:PETR4:101500:0:101501:6:300:47:PETROBRAS PN:67:2:99:ignored:21:-1.25!")
	require.NoError(t, err)

	quote := msg.(*entity.Quote)
	assert.Equal(t, "101501", quote.Timestamp)
	assert.Equal(t, int64(300), quote.CurrentVolume.Int64)
	assert.Equal(t, "PETROBRAS PN", quote.Description.String)
	assert.Equal(t, int64(2), quote.Status.Int64)
	assert.True(t, quote.Variation.Decimal.Equal(decimal.RequireFromString("-1.25")))
}

func TestDecode_QuoteUnparsableValueLeavesFieldUnset(t *testing.T) {
	msg, err := Decode("T:ABC:093000:2:abc:3:10.40")
	require.NoError(t, err)

	quote := msg.(*entity.Quote)
	assert.False(t, quote.LastPrice.Valid)
	assert.True(t, quote.BidPrice.Valid)
}

func TestDecode_Book(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		kind     entity.MessageKind
		op       entity.BookOperationType
		position int64
		side     string
		price    string
	}{
		{
			name:     "add",
			line:     "B:ABC:A:0:A:10.40:100:3:093000:ord1:L",
			kind:     entity.MessageKindBook,
			op:       entity.BookOperationAdd,
			position: 0,
			side:     entity.BookSideBuy,
			price:    "10.40",
		},
		{
			name:     "update",
			line:     "B:ABC:U:1:2:V:10.60:200:8:093001:ord2:O",
			kind:     entity.MessageKindBook,
			op:       entity.BookOperationUpdate,
			position: 2,
			side:     entity.BookSideSell,
			price:    "10.60",
		},
		{
			name:     "aggregated add",
			line:     "Z:ABC:A:1:V:10.70:500:0:093002:agg:L",
			kind:     entity.MessageKindAggregatedBook,
			op:       entity.BookOperationAdd,
			position: 1,
			side:     entity.BookSideSell,
			price:    "10.70",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.line)
			require.NoError(t, err)

			op, ok := msg.(*entity.BookOperation)
			require.True(t, ok)
			assert.Equal(t, tt.kind, op.Kind())
			assert.Equal(t, tt.op, op.Operation)
			assert.Equal(t, tt.position, op.Position.Int64)
			assert.Equal(t, tt.side, op.Side.String)
			assert.True(t, op.Price.Decimal.Equal(decimal.RequireFromString(tt.price)))
		})
	}
}

func TestDecode_BookDeleteAndShortOps(t *testing.T) {
	msg, err := Decode("B:ABC:D:x:V:3")
	require.NoError(t, err)
	op := msg.(*entity.BookOperation)
	assert.Equal(t, entity.BookOperationDelete, op.Operation)
	assert.Equal(t, entity.BookSideSell, op.Side.String)
	assert.Equal(t, int64(3), op.Position.Int64)

	msg, err = Decode("B:ABC:A:0:A")
	require.NoError(t, err)
	op = msg.(*entity.BookOperation)
	assert.False(t, op.Position.Valid)
	assert.False(t, op.Price.Valid)
}

func TestDecode_Trade(t *testing.T) {
	msg, err := Decode("V:ABC:A:093000:10.55:3:8:400:T1:N:A")
	require.NoError(t, err)

	trade, ok := msg.(*entity.Trade)
	require.True(t, ok)
	assert.Equal(t, "ABC", trade.Symbol)
	assert.True(t, trade.Price.Equal(decimal.RequireFromString("10.55")))
	assert.Equal(t, int64(3), trade.BuyerBroker.Int64)
	assert.Equal(t, int64(8), trade.SellerBroker.Int64)
	assert.Equal(t, int64(400), trade.Volume)
	assert.Equal(t, "T1", trade.TradeID)
	assert.Equal(t, "N", trade.Condition)
	assert.Equal(t, "A", trade.Aggressor)
}

func TestDecode_TradeMalformed(t *testing.T) {
	for _, line := range []string{
		"V:ABC:A:093000:10.55",
		"V:ABC:A:093000:abc:3:8:400:T1",
		"V:ABC:A:093000:10.55:3:8:many:T1",
	} {
		_, err := Decode(line)
		assert.True(t, errors.Is(err, ErrMalformedMessage), line)
	}
}

func TestDecode_Error(t *testing.T) {
	msg, err := Decode("E:11:Server unavailable: try later")
	require.NoError(t, err)

	feedErr, ok := msg.(*entity.FeedError)
	require.True(t, ok)
	assert.Equal(t, 11, feedErr.Code)
	assert.Equal(t, "11", feedErr.RawCode)
	assert.Equal(t, "Server unavailable: try later", feedErr.Message)

	msg, err = Decode("E::")
	require.NoError(t, err)
	feedErr = msg.(*entity.FeedError)
	assert.Equal(t, unknownErrorCode, feedErr.RawCode)
	assert.Equal(t, unknownErrorText, feedErr.Message)
}

func TestDecode_IgnoredLines(t *testing.T) {
	for _, line := range []string{"", "T", "T:", "X:ABC:1", "You are connected"} {
		msg, err := Decode(line)
		assert.NoError(t, err, line)
		assert.Nil(t, msg, line)
	}
}

func TestDecode_Total(t *testing.T) {
	inputs := []string{
		"T::",
		"B::",
		"Z:::::::::::::",
		"V::::::::",
		"E:",
		"T:ABC:1:2",
		"B:ABC:U:1:2:V",
		strings.Repeat(":", 64),
		"T" + strings.Repeat(":9", 50),
		"V:\x00:\xff:::::::::",
	}

	for _, line := range inputs {
		assert.NotPanics(t, func() {
			_, _ = Decode(line)
		}, line)
	}
}
