// backfilld runs a loopback backfill demo: it seeds a source store, registers
// a backfillee over the in-process mailbox, and streams the store into an
// empty sink.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rangekv/go-rangekv/backfill"
	"github.com/rangekv/go-rangekv/common/types"
	"github.com/rangekv/go-rangekv/config"
	"github.com/rangekv/go-rangekv/history"
	"github.com/rangekv/go-rangekv/mailbox"
	"github.com/rangekv/go-rangekv/metrics"
	"github.com/rangekv/go-rangekv/rangemap"
	"github.com/rangekv/go-rangekv/store/memstore"
)

var (
	cfg = config.DefaultConfig()

	keyCount  int
	valueSize int
	seed      int64
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfilld",
		Short: "loopback backfill demo for the rangekv backfill source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&cfg.ConfigFile,
		"config", "c", cfg.ConfigFile, "load configuration from file")
	cmd.PersistentFlags().StringVar(&cfg.LogLevel,
		"log-level", cfg.LogLevel, "minimum log level")
	cmd.PersistentFlags().BoolVar(&cfg.CollectMetrics,
		"metrics", cfg.CollectMetrics, "serve prometheus metrics")
	cmd.PersistentFlags().IntVar(&cfg.MetricsPort,
		"metrics-port", cfg.MetricsPort, "metrics server port")
	cmd.PersistentFlags().IntVar(&keyCount,
		"keys", 10000, "number of keys to seed the source store with")
	cmd.PersistentFlags().IntVar(&valueSize,
		"value-size", 256, "value size in bytes")
	cmd.PersistentFlags().Int64Var(&seed,
		"seed", 42, "seed for the value generator")
	return cmd
}

func run() error {
	if cfg.ConfigFile != "" {
		vip := viper.New()
		if err := config.LoadConfig(cfg.ConfigFile, vip); err != nil {
			return err
		}
		if err := config.Unmarshal(vip, &cfg); err != nil {
			return err
		}
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", cfg.LogLevel, err)
	}
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = level
	logger, err := zapCfg.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.CollectMetrics {
		metrics.StartCollectingMetrics(logger, cfg.MetricsPort)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := mailbox.NewManager(logger.Named("mailbox"))
	defer mgr.Close()

	region := types.FullRegion()
	hist := history.NewManager(logger.Named("history"))
	branch := history.Branch{
		ID:     types.NewBranchID(),
		Origin: rangemap.New(region.Keys, types.ZeroVersion()),
	}
	if err := hist.AddBranch(branch); err != nil {
		return err
	}
	current := types.Version{Branch: branch.ID, Timestamp: 1}

	src := memstore.New(logger.Named("source"), region, types.ZeroVersion())
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < keyCount; i++ {
		value := make([]byte, valueSize)
		rng.Read(value)
		src.Put(types.Key(fmt.Sprintf("key-%08d", i)), value, current)
	}
	logger.Info("seeded source store", zap.Int("keys", keyCount))

	backfiller, err := backfill.New(
		logger.Named("backfiller"), cfg.Backfill, mgr, hist, src)
	if err != nil {
		return err
	}
	defer backfiller.Close()

	sinkStore := memstore.New(logger.Named("sink"), region, types.ZeroVersion())
	sinkHist := history.NewManager(logger.Named("sink-history"))
	if err := sinkHist.Import(hist.Export()); err != nil {
		return err
	}

	backfillee, err := backfill.NewBackfillee(ctx,
		logger.Named("backfillee"), cfg.Backfill, mgr, sinkStore, sinkHist,
		clockwork.NewRealClock(), backfiller.RegistrationAddress())
	if err != nil {
		return err
	}
	defer backfillee.Close()

	started := time.Now()
	if err := backfillee.Backfill(ctx); err != nil {
		return err
	}
	logger.Info("backfill complete",
		zap.Int("keys", len(sinkStore.Keys())),
		zap.Duration("elapsed", time.Since(started)))
	if got := len(sinkStore.Keys()); got != keyCount {
		return fmt.Errorf("sink holds %d keys, want %d", got, keyCount)
	}
	return nil
}
