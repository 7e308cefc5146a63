package bootstrap

import (
	"fmt"
	"strings"

	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/entity"
	"github.com/krobus00/market-gateway/internal/service/distribution"
	"github.com/krobus00/market-gateway/internal/util"
	"github.com/spf13/cobra"
)

// StartIssueToken prints a signed downstream token for the given user.
func StartIssueToken(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")
	username, _ := cmd.Flags().GetString("username")
	permissions, _ := cmd.Flags().GetStringSlice("permissions")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		ttl = config.Env.Distribution.JWTExpiresIn
	}

	cleaned := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		if permission = strings.TrimSpace(permission); permission != "" {
			cleaned = append(cleaned, permission)
		}
	}

	auth := distribution.NewAuthenticator(config.Env.Distribution.JWTSecret, false)
	token, err := auth.IssueToken(entity.Principal{
		UserID:      userID,
		Username:    username,
		Permissions: cleaned,
	}, ttl)
	util.ContinueOrFatal(err)

	fmt.Fprintln(cmd.OutOrStdout(), token)
}
