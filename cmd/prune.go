/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-gateway/internal/bootstrap"
	"github.com/spf13/cobra"
)

// pruneCmd represents the prune command
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "delete ticks older than the retention window",
	Long:  `delete ticks older than the retention window and compact the store`,
	Run:   bootstrap.StartPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().Int("days", 0, "retention in days (default: pipeline.retention_days)")
}
