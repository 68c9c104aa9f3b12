package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"lead_rating_engine/internal/events"
	"lead_rating_engine/internal/rating"
	"lead_rating_engine/platform/config"
	"lead_rating_engine/platform/db"
	"lead_rating_engine/platform/kv"
	"lead_rating_engine/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "ratingctl",
	Short: "Operate the lead rating engine",
	Long: `ratingctl manages rating rules, computes and re-rates leads, inspects
rating history and maintains the rating cache.

Examples:
  ratingctl migrate
  ratingctl rules export --format yaml > rules.yaml
  ratingctl rate 0190f5d2-7c3e-7d4a-9d43-1b2c3d4e5f60
  ratingctl history purge --days 365`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// runtime holds the connections a command needs.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	pool   *pgxpool.Pool
	client redis.UniversalClient
	bus    *events.InMemoryBus
	module *rating.Module
}

func newLogger(cfg *config.Config) *logger.Logger {
	env := cfg.Env
	if verbose {
		env = "development"
	}
	return logger.NewWithWriter(env, os.Stderr)
}

// openRuntime connects Postgres and Redis and wires the rating module.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	client, err := kv.NewClient(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	bus := events.NewInMemoryBus(log)
	return &runtime{
		cfg:    cfg,
		log:    log,
		pool:   pool,
		client: client,
		bus:    bus,
		module: rating.NewModule(pool, client, bus, cfg, log),
	}, nil
}

func (r *runtime) Close() {
	r.bus.Wait()
	_ = r.client.Close()
	r.pool.Close()
}

// commandContext is cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withRuntime opens a runtime for the duration of fn.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
