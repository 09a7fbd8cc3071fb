package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jobwatch-engine/internal/config"
	"jobwatch-engine/internal/health"
	"jobwatch-engine/internal/httpapi"
	"jobwatch-engine/internal/logger"
	"jobwatch-engine/internal/scheduler"
	"jobwatch-engine/internal/secrets"
	"jobwatch-engine/internal/store"
	"jobwatch-engine/internal/syncer"
)

const (
	taskCheck = "check"
	taskSync  = "sync"

	shutdownTimeout = 10 * time.Second
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "engine",
		Short:         "Watch the co-op job portal and post new listings to Discord",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <data dir>/config.yml)")

	root.AddCommand(
		newSyncCmd(&cfgFile),
		newCheckCmd(&cfgFile),
		newServeCmd(&cfgFile),
		newSeenCmd(&cfgFile),
		newSecretsCmd(),
	)
	return root
}

// --- sync ---

func newSyncCmd(cfgFile *string) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.runSync(cmd.Context(), since)
			if err != nil {
				return err
			}
			printSyncSummary(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "cutoff date YYYY-MM-DD (default sync.post_since, then today)")
	return cmd
}

func printSyncSummary(w io.Writer, res syncer.Result) {
	fmt.Fprintf(w, "[SINCE] %s | New jobs posted: %d\n", res.Cutoff, res.Notified)
	if res.SeedMode {
		fmt.Fprintf(w, "First run: recorded %d existing listings as seen\n", res.Seeded)
	}
}

// --- check ---

func newCheckCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe the portal session, rewarming it once if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.checkSession(cmd.Context()); err != nil {
				return err
			}
			out := a.checker.Last()
			status := "session OK"
			if out != nil && out.Rewarmed {
				status = "session OK after rewarm"
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

// --- serve ---

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled session checks and syncs with the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	sched := scheduler.New(a.cfg.Location(), a.log)
	// The check is registered first so it runs before the first sync.
	if err := sched.Add(taskCheck, a.cfg.Schedule.Check, a.checkSession); err != nil {
		return err
	}
	if err := sched.Add(taskSync, a.cfg.Schedule.Sync, func(ctx context.Context) error {
		_, err := a.runSync(ctx, "")
		return err
	}); err != nil {
		return err
	}

	cfgVal := newConfigValue(a.cfg)
	handler := httpapi.NewHandler(httpapi.Deps{
		Hub:         a.hub,
		CfgVal:      cfgVal,
		UserCfgPath: a.cfgPath,
		LoadCfg:     func() (config.Config, error) { return loadConfig(a.cfgPath) },
		SyncStatus:  a.engine.Status,
		RunSync:     func(ctx context.Context) error { return sched.Trigger(ctx, taskSync) },
		CheckSession: func(ctx context.Context) (*health.Outcome, error) {
			err := sched.Trigger(ctx, taskCheck)
			if errors.Is(err, scheduler.ErrBusy) {
				return nil, err
			}
			return a.checker.Last(), err
		},
		ListCycles: func(ctx context.Context, limit int) ([]store.Cycle, error) {
			return store.ListCycles(ctx, a.db.Pool, limit)
		},
		SetWebhook: secrets.SetWebhookURL,
		Metrics:    a.metrics.Handler(),
		Log:        a.log,
		BaseCtx:    ctx,
	})

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(a.cfg.App.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		a.log.Info("engine listening", logger.String("addr", "http://"+addr), logger.String("config", a.cfgPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.log.Info("engine stopped")
	return err
}

func newConfigValue(cfg config.Config) *atomic.Value {
	v := &atomic.Value{}
	v.Store(cfg)
	return v
}

// --- seen ---

func newSeenCmd(cfgFile *string) *cobra.Command {
	seenCmd := &cobra.Command{
		Use:   "seen",
		Short: "Inspect the seen-listings store",
	}
	seenCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the seen store status and size",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBase(cmd.Context(), *cfgFile)
			if err != nil {
				return err
			}
			defer b.Close()

			snap, err := b.seen.Load(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "backend: %s\n", b.cfg.Sync.SeenBackend)
			fmt.Fprintf(w, "status:  %s\n", snap.Status)
			fmt.Fprintf(w, "ids:     %d\n", len(snap.IDs))
			if snap.SeedMode() {
				fmt.Fprintln(w, "next sync runs in seed mode: current listings are recorded without posting")
			}
			return nil
		},
	})
	return seenCmd
}

// --- secrets ---

func newSecretsCmd() *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage webhook URLs in the OS keychain",
	}

	var channel string
	setCmd := &cobra.Command{
		Use:   "set-webhook <url>",
		Short: "Store a webhook URL (used when notify.use_keyring is enabled)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := secrets.SetWebhookURL(channel, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s webhook in keychain\n", channel)
			return nil
		},
	}
	setCmd.Flags().StringVar(&channel, "channel", secrets.ChannelOfficial, "official or testing")

	var delChannel string
	delCmd := &cobra.Command{
		Use:   "delete-webhook",
		Short: "Remove a stored webhook URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := secrets.DeleteWebhookURL(delChannel); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s webhook from keychain\n", delChannel)
			return nil
		},
	}
	delCmd.Flags().StringVar(&delChannel, "channel", secrets.ChannelOfficial, "official or testing")

	secretsCmd.AddCommand(setCmd, delCmd)
	return secretsCmd
}
