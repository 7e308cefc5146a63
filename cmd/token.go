/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/market-gateway/internal/bootstrap"
	"github.com/spf13/cobra"
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "issue a downstream websocket token",
	Long:  `issue an HS256 token accepted by the websocket auth message`,
	Run:   bootstrap.StartIssueToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("user", "trader", "user id")
	tokenCmd.Flags().String("username", "", "display name")
	tokenCmd.Flags().StringSlice("permissions", []string{"read"}, "granted permissions, e.g. read:quotes,read:trades")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default: distribution.jwt_expires_in)")
}
