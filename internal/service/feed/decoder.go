package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	fieldSeparator   = ":"
	quoteTerminator  = "!"
	minLineLength    = 3
	minTradeParts    = 9
	minBookParts     = 3
	minQuoteParts    = 3
	bookAddParts     = 11
	bookUpdateParts  = 12
	bookDeleteParts  = 6
	unknownErrorCode = "UNKNOWN"
	unknownErrorText = "unknown error"
)

// Decode turns one feed line into a typed message. Lines that are too short or
// carry an unknown leading kind yield (nil, nil); structurally broken lines
// yield ErrMalformedMessage. Decode never panics.
func Decode(line string) (msg entity.FeedMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			err = fmt.Errorf("%w: %v", ErrMalformedMessage, r)
		}
	}()

	if len(line) < minLineLength {
		return nil, nil
	}

	switch entity.MessageKind(line[:1]) {
	case entity.MessageKindQuote:
		return decodeQuote(line)
	case entity.MessageKindBook:
		return decodeBook(line, false)
	case entity.MessageKindAggregatedBook:
		return decodeBook(line, true)
	case entity.MessageKindTrade:
		return decodeTrade(line)
	case entity.MessageKindError:
		return decodeError(line), nil
	default:
		logrus.WithField("kind", line[:1]).Debug("unknown feed message kind")
		return nil, nil
	}
}

func decodeQuote(line string) (*entity.Quote, error) {
	parts := strings.Split(strings.TrimSuffix(line, quoteTerminator), fieldSeparator)
	if len(parts) < minQuoteParts {
		return nil, fmt.Errorf("%w: quote has %d fields", ErrMalformedMessage, len(parts))
	}

	quote := &entity.Quote{
		Symbol:    parts[1],
		Timestamp: parts[2],
		Raw:       line,
	}

	for i := 3; i < len(parts)-1; i += 2 {
		index, err := strconv.Atoi(parts[i])
		if err != nil {
			logrus.WithField("index", parts[i]).Debug("non-numeric quote index")
			continue
		}
		applyQuoteIndex(quote, index, parts[i+1])
	}

	return quote, nil
}

func applyQuoteIndex(q *entity.Quote, index int, value string) {
	switch index {
	case 0:
		q.Timestamp = value
	case 2:
		q.LastPrice = parseDecimal(value)
	case 3:
		q.BidPrice = parseDecimal(value)
	case 4:
		q.AskPrice = parseDecimal(value)
	case 5:
		q.LastTradeTime = null.StringFrom(value)
	case 6:
		q.CurrentVolume = parseInt(value)
	case 7:
		q.LastVolume = parseInt(value)
	case 8:
		q.TotalTrades = parseInt(value)
	case 9:
		q.AccumulatedVolume = parseInt(value)
	case 10:
		q.FinancialVolume = parseDecimal(value)
	case 11:
		q.HighPrice = parseDecimal(value)
	case 12:
		q.LowPrice = parseDecimal(value)
	case 13:
		q.PreviousClose = parseDecimal(value)
	case 14:
		q.OpenPrice = parseDecimal(value)
	case 15:
		q.BidTime = null.StringFrom(value)
	case 16:
		q.AskTime = null.StringFrom(value)
	case 19:
		q.BidVolume = parseInt(value)
	case 20:
		q.AskVolume = parseInt(value)
	case 21:
		q.Variation = parseDecimal(value)
	case 44:
		q.MarketCode = parseInt(value)
	case 45:
		q.AssetType = parseInt(value)
	case 46:
		q.StandardLot = parseInt(value)
	case 47:
		q.Description = null.StringFrom(value)
	case 67:
		q.Status = parseInt(value)
	default:
		logrus.WithFields(logrus.Fields{
			"index": index,
			"value": value,
		}).Debug("unmapped quote index")
	}
}

func decodeBook(line string, aggregated bool) (*entity.BookOperation, error) {
	parts := strings.Split(line, fieldSeparator)
	if len(parts) < minBookParts {
		return nil, fmt.Errorf("%w: book has %d fields", ErrMalformedMessage, len(parts))
	}

	op := &entity.BookOperation{
		Symbol:     parts[1],
		Operation:  entity.BookOperationType(parts[2]),
		Aggregated: aggregated,
		Timestamp:  time.Now().UTC(),
		Raw:        line,
	}

	switch op.Operation {
	case entity.BookOperationAdd:
		if len(parts) >= bookAddParts {
			fillBookLevel(op, parts[3:11])
		}
	case entity.BookOperationUpdate:
		if len(parts) >= bookUpdateParts {
			fillBookLevel(op, parts[4:12])
		}
	case entity.BookOperationDelete:
		if len(parts) >= bookDeleteParts {
			op.Side = null.StringFrom(parts[4])
			op.Position = parseInt(parts[5])
		}
	}

	return op, nil
}

// fillBookLevel reads position, side, price, volume, broker, datetime, orderId, orderType.
func fillBookLevel(op *entity.BookOperation, fields []string) {
	op.Position = parseInt(fields[0])
	op.Side = null.StringFrom(fields[1])
	op.Price = parseDecimal(fields[2])
	op.Volume = parseInt(fields[3])
	op.Broker = parseInt(fields[4])
	op.Datetime = null.StringFrom(fields[5])
	op.OrderID = null.StringFrom(fields[6])
	op.OrderType = null.StringFrom(fields[7])
}

func decodeTrade(line string) (*entity.Trade, error) {
	parts := strings.Split(line, fieldSeparator)
	if len(parts) < minTradeParts {
		return nil, fmt.Errorf("%w: trade has %d fields", ErrMalformedMessage, len(parts))
	}

	price, err := decimal.NewFromString(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: trade price %q", ErrMalformedMessage, parts[4])
	}

	volume, err := strconv.ParseInt(parts[7], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: trade volume %q", ErrMalformedMessage, parts[7])
	}

	trade := &entity.Trade{
		Symbol:       parts[1],
		Operation:    parts[2],
		Time:         parts[3],
		Price:        price,
		BuyerBroker:  parseInt(parts[5]),
		SellerBroker: parseInt(parts[6]),
		Volume:       volume,
		TradeID:      parts[8],
		Timestamp:    time.Now().UTC(),
		Raw:          line,
	}
	if len(parts) > 9 {
		trade.Condition = parts[9]
	}
	if len(parts) > 10 {
		trade.Aggressor = parts[10]
	}

	return trade, nil
}

func decodeError(line string) *entity.FeedError {
	parts := strings.Split(line, fieldSeparator)

	rawCode := unknownErrorCode
	if len(parts) > 1 && parts[1] != "" {
		rawCode = parts[1]
	}

	message := unknownErrorText
	if len(parts) > 2 {
		if joined := strings.Join(parts[2:], fieldSeparator); joined != "" {
			message = joined
		}
	}

	code, err := strconv.Atoi(rawCode)
	if err != nil {
		code = 0
	}

	return &entity.FeedError{
		Code:    code,
		RawCode: rawCode,
		Message: message,
		Raw:     line,
	}
}

func parseDecimal(value string) decimal.NullDecimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseInt(value string) null.Int {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return null.Int{}
	}
	return null.IntFrom(n)
}
