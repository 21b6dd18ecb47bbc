package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/Sternrassler/inat-client/internal/config"
	"github.com/Sternrassler/inat-client/pkg/cache"
	"github.com/Sternrassler/inat-client/pkg/client"
	"github.com/Sternrassler/inat-client/pkg/logging"
	"github.com/Sternrassler/inat-client/pkg/pagination"
	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what every subcommand shares. It is built once per invocation
// in the root command's PersistentPreRunE.
type app struct {
	out    io.Writer
	errOut io.Writer

	cfg        *config.Config
	store      cache.Store
	closeStore func() error
	client     *client.Client
	logger     zerolog.Logger

	progressMode string
	showStats    bool
}

// newRootCmd builds the command tree. The returned func releases the client
// and the cache; it must run after Execute, whether or not Execute failed.
func newRootCmd(out, errOut io.Writer) (*cobra.Command, func() error) {
	a := &app{out: out, errOut: errOut}
	var cfgFile string

	root := &cobra.Command{
		Use:           "inatq",
		Short:         "inatq queries the iNaturalist API with pacing and a persistent cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, cfgFile)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.showStats {
				return renderStats(a.out)
			}
			return nil
		},
	}

	fs := root.PersistentFlags()
	fs.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	fs.StringVar(&a.progressMode, "progress", "auto", "progress display (auto|bar|log|none)")
	fs.BoolVar(&a.showStats, "stats", false, "print client metrics when done")
	config.RegisterFlags(fs)

	root.AddCommand(
		newFetchCmd(a),
		newExcludeCmd(a),
		newEntityCmd(a),
		newCacheCmd(a),
		newServeCmd(a),
	)
	return root, a.close
}

func (a *app) init(cmd *cobra.Command, cfgFile string) error {
	cfg, err := config.Load(cmd.Flags(), cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.LoggingConfig()
	logCfg.Output = a.errOut
	logging.Setup(logCfg)
	a.logger = logging.NewLogger("inatq")

	store, closeStore, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	a.store, a.closeStore = store, closeStore

	c, err := client.New(cfg.ClientConfig(store))
	if err != nil {
		closeStore()
		return fmt.Errorf("failed to create client: %w", err)
	}
	a.client = c
	return nil
}

func (a *app) close() error {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	if a.closeStore != nil {
		err := a.closeStore()
		a.closeStore = nil
		return err
	}
	return nil
}

// openStore opens the configured cache backend.
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, func() error, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return cache.NewRedisStore(redisClient), redisClient.Close, nil

	default:
		store, err := cache.OpenBadger(cfg.Cache.Path, logging.NewLogger("badger"))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// newRetriever builds a retriever reporting through the selected progress
// display.
func (a *app) newRetriever() *pagination.Retriever {
	return pagination.NewRetriever(a.client, a.store, a.progress(), a.cfg.PaginationConfig())
}

func (a *app) progress() pagination.Progress {
	mode := a.progressMode
	if mode == "auto" {
		mode = "log"
		if f, ok := a.errOut.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			mode = "bar"
		}
	}

	switch mode {
	case "bar":
		var in io.Reader
		if isatty.IsTerminal(os.Stdin.Fd()) {
			in = os.Stdin
		}
		return newBarProgress(a.errOut, in)
	case "none":
		return pagination.NopProgress{}
	default:
		return pagination.NewLogProgress(logging.NewLogger("pagination"), 5*time.Second)
	}
}

// cancelOnInterrupt turns SIGINT into a cooperative cancellation of the
// running retrieval. The request already on the wire completes.
func (a *app) cancelOnInterrupt() (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigs:
				a.client.Cancel(true)
				a.logger.Warn().Msg("Interrupt received, cancelling after the current request")
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
