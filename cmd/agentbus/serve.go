package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/agentbus/internal/agent"
	"github.com/zulandar/agentbus/internal/autosave"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/config"
	"github.com/zulandar/agentbus/internal/dashboard"
	"github.com/zulandar/agentbus/internal/journal"
	"github.com/zulandar/agentbus/internal/notify"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		statePath  string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bus with its HTTP API and in-process agents",
		Long: "Loads the snapshot, registers configured agents, starts runners for agents marked run, " +
			"schedules autosave and serves the HTTP API until interrupted. State is saved on shutdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, statePath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to agentbus config file (YAML or TOML)")
	cmd.Flags().StringVar(&statePath, "state", "", "snapshot file (overrides state.path from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides dashboard.port from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, statePath string, port int) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if statePath != "" {
		cfg.State.Path = statePath
	}
	if port > 0 {
		cfg.Dashboard.Port = port
	}

	logger := log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	opts := busOptions(cfg, logger)

	var (
		sinks []bus.EventSink
		jrnl  *journal.Journal
	)
	if cfg.Journal.Driver != "" {
		jrnl, err = openJournal(cfg, log.New(cmd.ErrOrStderr(), "journal: ", log.LstdFlags))
		if err != nil {
			return err
		}
		sinks = append(sinks, jrnl)
		fmt.Fprintf(out, "Journal: %s\n", cfg.Journal.Driver)
	}
	var pruner *journal.Pruner
	if jrnl != nil && cfg.Journal.Retention > 0 {
		pruner, err = journal.NewPruner(jrnl, cfg.Journal.Retention, cfg.Journal.PruneSchedule, log.New(cmd.ErrOrStderr(), "", log.LstdFlags))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Journal retention: %s (%s)\n", cfg.Journal.Retention, cfg.Journal.PruneSchedule)
	}
	notifier, err := newNotifier(cfg.Notify, log.New(cmd.ErrOrStderr(), "", log.LstdFlags))
	if err != nil {
		return err
	}
	if notifier != nil {
		sinks = append(sinks, notifier)
		fmt.Fprintf(out, "Notifications: %s %s (%s)\n", cfg.Notify.Platform, cfg.Notify.Channel, strings.Join(cfg.Notify.Kinds, ", "))
	}
	opts.Sink = bus.MultiSink(sinks...)

	b, err := bus.Open(cfg.State.Path, opts)
	if err != nil {
		backup := cfg.State.Path + ".corrupt"
		if renameErr := os.Rename(cfg.State.Path, backup); renameErr != nil {
			return fmt.Errorf("%w (and could not move it aside: %v)", err, renameErr)
		}
		logger.Printf("serve: %v; moved to %s, starting with empty state", err, backup)
	}
	if err := registerConfigured(b, cfg.Agents); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	for _, ac := range cfg.Agents {
		if !ac.Run {
			continue
		}
		r, err := agent.NewRunner(b, agent.Options{
			Name:         ac.Name,
			Capabilities: ac.Capabilities,
			Metadata:     ac.Metadata,
			PollInterval: cfg.Runtime.PollInterval,
			ErrorBackoff: cfg.Runtime.ErrorBackoff,
			PollLimit:    cfg.Runtime.PollLimit,
			Logger:       log.New(cmd.ErrOrStderr(), "agent "+ac.Name+": ", log.LstdFlags),
		})
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("serve: runner %s stopped: %v", r.Name(), err)
			}
		}()
		fmt.Fprintf(out, "Started runner for %s\n", ac.Name)
	}

	var notifyDone <-chan struct{}
	if notifier != nil {
		notifyDone = notifier.Start(ctx)
	}

	var prunerDone <-chan struct{}
	if pruner != nil {
		prunerDone = pruner.Start(ctx)
	}

	var saverDone <-chan struct{}
	if cfg.State.Autosave != "" {
		saver, err := autosave.New(b, cfg.State.Path, cfg.State.Autosave, log.New(cmd.ErrOrStderr(), "", log.LstdFlags))
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		saverDone = saver.Start(ctx)
	}

	serveErr := dashboard.Start(ctx, dashboard.StartOpts{
		Bus:       b,
		Journal:   jrnl,
		StatePath: cfg.State.Path,
		Port:      cfg.Dashboard.Port,
		Out:       out,
		Logger:    log.New(cmd.ErrOrStderr(), "dashboard: ", log.LstdFlags),
	})

	cancel()
	wg.Wait()
	if saverDone != nil {
		<-saverDone
	}
	if notifyDone != nil {
		<-notifyDone
	}
	if prunerDone != nil {
		<-prunerDone
	}
	if err := b.SaveState(cfg.State.Path); err != nil {
		logger.Printf("serve: final save: %v", err)
	} else {
		fmt.Fprintf(out, "State saved to %s\n", cfg.State.Path)
	}
	return serveErr
}

// registerConfigured registers every agent declared in the config.
func registerConfigured(b *bus.Bus, agents []config.AgentConfig) error {
	for _, ac := range agents {
		if err := b.Register(ac.Name, ac.Capabilities, ac.Metadata); err != nil {
			return fmt.Errorf("register agent %q: %w", ac.Name, err)
		}
	}
	return nil
}

// newNotifier builds the chat notifier described by cfg, or nil when
// notifications are disabled.
func newNotifier(cfg config.NotifyConfig, logger *log.Logger) (*notify.Notifier, error) {
	var (
		ch  notify.Channel
		err error
	)
	switch cfg.Platform {
	case "":
		return nil, nil
	case "slack":
		ch, err = notify.NewSlack(notify.SlackOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Channel})
	case "discord":
		ch, err = notify.NewDiscord(notify.DiscordOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Channel})
	default:
		return nil, fmt.Errorf("notify: unsupported platform %q", cfg.Platform)
	}
	if err != nil {
		return nil, err
	}
	return notify.New(ch, notify.Options{Kinds: cfg.Kinds, Logger: logger})
}
