/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-gateway/internal/bootstrap"
	"github.com/spf13/cobra"
)

// marketDataGatewayCmd represents the marketDataGateway command
var marketDataGatewayCmd = &cobra.Command{
	Use:   "market-data-gateway",
	Short: "Market data gateway service",
	Long: `Market Data Gateway logs into the upstream market data feed, decodes quotes,
book updates and trades, and fans them out to downstream clients.

This service acts as a central hub that:
- Keeps an authenticated session with the feed and reconnects when it drops
- Caches the latest quote, book and trade window per symbol
- Persists trades in batches for historical queries
- Streams throttled channel updates to WebSocket clients`,
	Run: bootstrap.StartMarketDataGateway,
}

func init() {
	rootCmd.AddCommand(marketDataGatewayCmd)
}
