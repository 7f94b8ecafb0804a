package cmd

import (
	"context"
	"fmt"

	"github.com/facebookgo/clock"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/shopmgr/partsync/pkg/engine"
	"github.com/shopmgr/partsync/pkg/pricing"
	"github.com/shopmgr/partsync/pkg/supplier"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var triggerCfgFile string

//nolint:gochecknoglobals // Cobra commands are typically global
var triggerCmd = &cobra.Command{
	Use:       "trigger [full|incremental|requests]",
	Short:     "Run a single sync operation and exit",
	Long:      `Runs one sync operation against the supplier without starting the service.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"full", "incremental", "requests"},
	RunE:      runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.Flags().StringVar(&triggerCfgFile, "config", "partsync.yaml", "config file (default is partsync.yaml)")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadConfigFromFile(triggerCfgFile)
	if err != nil {
		return err
	}

	if err := config.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(config.Logging)
	if err != nil {
		return err
	}

	redisOpt, err := config.Redis.Options()
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(redisOpt)
	defer func() { _ = redisClient.Close() }()

	ctx := context.Background()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	clk := clock.New()
	prefix := config.Redis.Prefix
	tracker := supplier.NewRateLimitTracker(clk)

	client, err := supplier.NewClient(logger, &config.Supplier, clk, tracker)
	if err != nil {
		return err
	}

	retrier := supplier.NewRetrier(logger, clk, config.Supplier.MaxRetries, config.Supplier.BaseRetryDelay)
	cache := pricing.NewCacheStore(logger, redisClient, clk, prefix, config.Engine.StaleThreshold)
	syncLog := pricing.NewSyncLog(logger, redisClient, clk, prefix)
	queue := pricing.NewRequestQueue(logger, redisClient, clk, prefix)

	eng, err := engine.NewService(logger, &config.Engine, clk, client, retrier, tracker, cache, syncLog, queue)
	if err != nil {
		return err
	}

	var record *pricing.SyncLogRecord

	switch args[0] {
	case "full":
		record, err = eng.FullSync(ctx)
	case "incremental":
		record, err = eng.IncrementalSync(ctx)
	case "requests":
		record, err = eng.ProcessPendingRequests(ctx)
	}

	if err != nil {
		return err
	}

	fmt.Printf("Sync %s finished: status=%s total=%d success=%d failure=%d\n",
		record.SyncType, record.Status, record.TotalParts, record.SuccessCount, record.FailureCount)

	if record.RateLimited {
		fmt.Printf("Supplier rate limited, retry after %s\n", record.RetryAfter)
	}

	return nil
}
