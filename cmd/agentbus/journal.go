package main

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/agentbus/internal/config"
	"github.com/zulandar/agentbus/internal/db"
	"github.com/zulandar/agentbus/internal/journal"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Activity journal maintenance commands",
	}

	cmd.AddCommand(newJournalStatsCmd())
	cmd.AddCommand(newJournalPruneCmd())
	return cmd
}

// openJournal connects to the journal database named in cfg.
func openJournal(cfg *config.Config, logger *log.Logger) (*journal.Journal, error) {
	if cfg.Journal.Driver == "" {
		return nil, fmt.Errorf("journal is not configured (set journal.driver)")
	}
	gormDB, err := db.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return journal.New(gormDB, logger), nil
}

func newJournalStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored event counts by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			j, err := openJournal(cfg, log.New(cmd.ErrOrStderr(), "journal: ", log.LstdFlags))
			if err != nil {
				return err
			}
			counts, err := j.Count()
			if err != nil {
				return err
			}

			kinds := make([]string, 0, len(counts))
			var total int64
			for kind, n := range counts {
				kinds = append(kinds, kind)
				total += n
			}
			sort.Strings(kinds)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Events: %d\n", total)
			for _, kind := range kinds {
				fmt.Fprintf(out, "  %-14s %d\n", kind, counts[kind])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to agentbus config file (YAML or TOML)")
	return cmd
}

func newJournalPruneCmd() *cobra.Command {
	var (
		configPath string
		olderThan  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal events older than a cutoff",
		Long:  "Deletes events older than --older-than, or journal.retention from config when the flag is not given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			keep := cfg.Journal.Retention
			if cmd.Flags().Changed("older-than") {
				keep = olderThan
			}
			if keep <= 0 {
				return fmt.Errorf("--older-than must be positive (or set journal.retention)")
			}
			j, err := openJournal(cfg, log.New(cmd.ErrOrStderr(), "journal: ", log.LstdFlags))
			if err != nil {
				return err
			}

			cutoff := time.Now().Add(-keep)
			n, err := j.Prune(cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d event(s) older than %s\n", n, cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to agentbus config file (YAML or TOML)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff, e.g. 720h")
	return cmd
}
