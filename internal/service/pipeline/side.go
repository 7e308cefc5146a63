package pipeline

import "github.com/krobus00/market-gateway/internal/entity"

const (
	aggressorBuyer  = "A"
	aggressorSeller = "V"
)

// TradeSide resolves the trade direction from the aggressor flag, falling
// back to comparing broker codes. Equal or unknown brokers resolve to SELL.
func TradeSide(trade *entity.Trade) entity.TradeSide {
	switch trade.Aggressor {
	case aggressorBuyer:
		return entity.TradeSideBuy
	case aggressorSeller:
		return entity.TradeSideSell
	}

	// an unknown broker never wins the comparison
	if trade.BuyerBroker.Valid && trade.SellerBroker.Valid && trade.BuyerBroker.Int64 > trade.SellerBroker.Int64 {
		return entity.TradeSideBuy
	}
	return entity.TradeSideSell
}

func IsAggressor(trade *entity.Trade) bool {
	return trade.Aggressor != ""
}

func toTickRecord(trade *entity.Trade, createdAt int64) entity.TickRecord {
	tick := entity.TickRecord{
		Symbol:       trade.Symbol,
		Timestamp:    trade.Timestamp.UnixMilli(),
		Price:        trade.Price,
		Volume:       trade.Volume,
		Side:         TradeSide(trade),
		Aggressor:    IsAggressor(trade),
		TradeID:      trade.TradeID,
		BrokerBuyer:  trade.BuyerBroker,
		BrokerSeller: trade.SellerBroker,
		CreatedAt:    createdAt,
	}
	if trade.Time != "" {
		tick.TradeTime.SetValid(trade.Time)
	}

	return tick
}
