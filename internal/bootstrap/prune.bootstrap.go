package bootstrap

import (
	"time"

	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/krobus00/market-gateway/internal/repository"
	"github.com/krobus00/market-gateway/internal/service/pipeline"
	"github.com/krobus00/market-gateway/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartPrune(cmd *cobra.Command, args []string) {
	retentionDays, _ := cmd.Flags().GetInt("days")
	if retentionDays <= 0 {
		retentionDays = config.Env.Pipeline.RetentionDays
	}

	ctx := cmd.Context()
	db, err := infrastructure.NewDatabaseConnection(ctx, config.Env.Database[constant.MarketDataDatabase])
	util.ContinueOrFatal(err)
	defer db.Close()

	deleted, err := pipeline.Prune(ctx, repository.NewTickRepository(db), retentionDays, time.Now())
	util.ContinueOrFatal(err)

	logrus.WithFields(logrus.Fields{
		"deleted":        deleted,
		"retention_days": retentionDays,
	}).Info("prune finished")
}
