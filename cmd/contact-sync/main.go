package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/goliatone/go-contact-sync/core"
	"github.com/goliatone/go-contact-sync/jobs"
	syncmigrations "github.com/goliatone/go-contact-sync/migrations"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(viper.GetViper())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "contact-sync",
		Short:        "Contact sync connections, workers and maintenance",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v)
		},
	}
	setupFlags(rootCmd, v)

	rootCmd.AddCommand(
		newMigrateCommand(v),
		newWorkerCommand(v),
		newSweepCommand(v),
		newSyncCommand(v),
		newConnectionsCommand(v),
		newDeadLettersCommand(v),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) {
	applyDefaults(v)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-driver", defaultDriver, "Database driver (sqlite3, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaultDSN, "Database connection string")
	cmd.PersistentFlags().String("log-level", defaultLogLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("redis-addr", "", "Redis address for the shared task queue and locks")

	bindFlag(cmd, v, "database.driver", "database-driver")
	bindFlag(cmd, v, "database.dsn", "database-dsn")
	bindFlag(cmd, v, "log.level", "log-level")
	bindFlag(cmd, v, "redis.addr", "redis-addr")
}

func bindFlag(cmd *cobra.Command, v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig(v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("contact-sync")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, dialect, err := openDatabase(ctx, v)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := syncmigrations.Apply(ctx, env.client, dialect); err != nil {
				env.logger.Error("migrations failed", zap.Error(err))
				return err
			}
			env.logger.Info("migrations applied", zap.String("dialect", dialect))
			return nil
		},
	}
}

func newWorkerCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task workers and the sweep schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx, v)
			if err != nil {
				return err
			}
			defer env.Close()

			scheduler, err := env.runtime.NewScheduler()
			if err != nil {
				return err
			}
			scheduler.Start()
			defer func() { <-scheduler.Stop().Done() }()
			env.logger.Info("scheduler started", zap.Strings("tasks", scheduler.Scheduled()))

			if env.queue == nil {
				// Inline mode: scheduled sweeps run in the cron goroutine.
				env.logger.Warn("redis.addr not set, running tasks inline")
				<-ctx.Done()
				return nil
			}

			runner, err := env.runtime.NewRunner(env.queue, jobs.WithWorkers(env.app.Workers))
			if err != nil {
				return err
			}
			env.logger.Info("workers started", zap.Int("workers", env.app.Workers))
			return runner.Run(ctx)
		},
	}
}

func newSweepCommand(v *viper.Viper) *cobra.Command {
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue one sweep immediately",
	}
	sweepCmd.AddCommand(
		&cobra.Command{
			Use:   "refresh",
			Short: "Enqueue token refreshes for credentials near expiry",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSweep(cmd, v, core.TaskTokenRefreshSweep)
			},
		},
		&cobra.Command{
			Use:   "sync",
			Short: "Enqueue a sync for every active connection",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSweep(cmd, v, core.TaskConnectionScheduler)
			},
		},
	)
	return sweepCmd
}

func runSweep(cmd *cobra.Command, v *viper.Viper, task string) error {
	ctx := cmd.Context()
	env, err := openEnvironment(ctx, v)
	if err != nil {
		return err
	}
	defer env.Close()

	if env.queue != nil {
		reclaimed, err := env.queue.ReclaimExpired(ctx)
		if err != nil {
			return err
		}
		if reclaimed > 0 {
			env.logger.Warn("requeued tasks with expired leases", zap.Int("count", reclaimed))
		}
	}

	sweep := env.runtime.Sweeper.EnqueueActiveSyncs
	if task == core.TaskTokenRefreshSweep {
		sweep = env.runtime.Sweeper.EnqueueExpiringRefreshes
	}
	report, err := sweep(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), report)
}

func newSyncCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <connection-id>",
		Short: "Sync one connection in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx, v)
			if err != nil {
				return err
			}
			defer env.Close()

			result, err := env.runtime.SyncNow(ctx, args[0])
			if err != nil {
				env.logger.Error("sync failed", zap.String("connection_id", args[0]), zap.Error(err))
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newConnectionsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "connections <user-id>",
		Short: "List a user's provider connections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx, v)
			if err != nil {
				return err
			}
			defer env.Close()

			summaries, err := env.runtime.Service.ListConnections(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summaries)
		},
	}
}

func newDeadLettersCommand(v *viper.Viper) *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "Show tasks that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnvironment(ctx, v)
			if err != nil {
				return err
			}
			defer env.Close()

			if env.queue == nil {
				return fmt.Errorf("dead-letters requires redis.addr")
			}
			messages, err := env.queue.DeadLetters(ctx, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), messages)
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 50, "Maximum entries to show")
	return cmd
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
