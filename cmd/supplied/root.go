// Command supplied runs the offline-first inventory core: a local
// SQLite store kept in step with a hosted record store through the
// sync engine, the offline queue, and the realtime change feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supplied-app/supplied/internal/auth"
	"github.com/supplied-app/supplied/internal/cloud"
	"github.com/supplied-app/supplied/internal/config"
	"github.com/supplied-app/supplied/internal/logging"
	"github.com/supplied-app/supplied/internal/models"
	"github.com/supplied-app/supplied/internal/notify"
	"github.com/supplied-app/supplied/internal/realtime"
	"github.com/supplied-app/supplied/internal/store"
	syncengine "github.com/supplied-app/supplied/internal/sync"
	"github.com/supplied-app/supplied/internal/sync/queue"
	"github.com/supplied-app/supplied/internal/sync/scheduler"
)

// app bundles the wired core for one command invocation.
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	store  *store.Store
	auth   *auth.Signal
	engine *syncengine.Engine
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	st, err := store.Open(cfg.DataDir, log)
	if err != nil {
		return nil, err
	}

	sig := auth.NewSignal()
	if cfg.Remote.UserID != "" && cfg.Remote.AccessToken != "" {
		sig.Set(auth.State{IsAuthenticated: true, UserID: cfg.Remote.UserID})
	}

	token := cfg.Remote.AccessToken
	client := cloud.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey,
		func() string { return token }, sig, log)

	engine, err := syncengine.NewEngine(st, client, sig,
		notify.NewLogNotifier(logging.Component(log, "notify")), log,
		syncengine.Options{
			QueueDir: cfg.DataDir,
			Queue:    queue.Options{DrainDelay: cfg.Sync.DrainDelay},
		})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, store: st, auth: sig, engine: engine}, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "supplied",
		Short:         "Offline-first inventory and shopping list core",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	root.AddCommand(
		newRunCmd(&configPath),
		newSyncCmd(&configPath),
		newStatusCmd(&configPath),
		newQueueCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the core until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			subscriber := realtime.NewSubscriber(a.cfg.Remote.RealtimeURL, a.cfg.Remote.APIKey, a.log)
			listener := realtime.NewListener(subscriber, a.store, a.auth, a.log)
			a.engine.OnBuildingMapped(listener.RegisterBuildingMapping)

			a.engine.Start()
			defer a.engine.Stop()
			listener.Start()
			defer listener.Stop()

			a.engine.SetOnline(true)

			sched := scheduler.New(a.engine, scheduler.Config{
				SyncInterval:  a.cfg.Sync.Interval,
				QueueInterval: a.cfg.Sync.QueueInterval,
			}, a.log)
			sched.Start(ctx)
			defer sched.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
			case <-ctx.Done():
			}
			a.log.Info("shutting down")
			return nil
		},
	}
}

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync against the hosted store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SetOnline(true)
			if err := a.engine.SyncWithCloud(cmd.Context()); err != nil {
				return err
			}
			printStatus(cmd, a.engine.Status())
			return nil
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status and pending operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			printStatus(cmd, a.engine.Status())
			return nil
		},
	}
}

func newQueueCmd(configPath *string) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline queue",
	}

	queueCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ops := a.engine.Queue().Operations()
			if len(ops) == 0 {
				cmd.Println("queue empty")
				return nil
			}
			for _, op := range ops {
				line := fmt.Sprintf("%s  %-6s %-11s %s  retries=%d/%d",
					op.Timestamp.Format("2006-01-02 15:04:05"),
					op.Type, op.Entity, op.EntityID, op.RetryCount, op.MaxRetries)
				if op.Error != "" {
					line += "  last error: " + op.Error
				}
				cmd.Println(line)
			}
			return nil
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Reset retry budgets and drain the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SetOnline(true)
			a.engine.Queue().RetryFailedOperations(cmd.Context())
			cmd.Printf("%d operations still pending\n", a.engine.Queue().Len())
			return nil
		},
	})

	queueCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all pending operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			n := a.engine.Queue().Len()
			a.engine.Queue().Clear()
			cmd.Printf("dropped %d operations\n", n)
			return nil
		},
	})

	return queueCmd
}

func printStatus(cmd *cobra.Command, status models.SyncStatus) {
	cmd.Printf("online:              %v\n", status.IsOnline)
	cmd.Printf("syncing:             %v\n", status.IsSyncing)
	if status.LastSync != nil {
		cmd.Printf("last sync:           %s\n", status.LastSync.Format("2006-01-02 15:04:05"))
	} else {
		cmd.Println("last sync:           never")
	}
	cmd.Printf("conflicts resolved:  %d\n", status.ConflictsResolved)
	cmd.Printf("pending operations:  %d\n", status.PendingOperations)
	for _, msg := range status.Errors {
		cmd.Println("error: " + msg)
	}
}
