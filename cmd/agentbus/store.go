package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/agentbus/internal/bus"
	"github.com/zulandar/agentbus/internal/config"
)

const defaultConfigPath = "agentbus.yaml"

// storeFlags are shared by the commands that work directly on the snapshot
// file instead of a running server.
type storeFlags struct {
	configPath string
	statePath  string
	verbose    bool
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to agentbus config file (YAML or TOML)")
	cmd.Flags().StringVar(&f.statePath, "state", "", "snapshot file (overrides state.path from config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log bus activity to stderr")
}

// loadConfig reads configPath. A missing default config file yields the
// built-in defaults; an explicitly named file must exist.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(configPath); errors.Is(statErr, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// busOptions translates the bus section of the config.
func busOptions(cfg *config.Config, logger *log.Logger) bus.Options {
	return bus.Options{
		Strategy:          bus.Strategy(cfg.Bus.Strategy),
		LoadThreshold:     cfg.Bus.LoadThreshold,
		AckEchoLength:     cfg.Bus.AckEchoLength,
		StrictTransitions: cfg.Bus.StrictTransitions,
		IgnoreUnknownTask: cfg.Bus.UnknownTask == config.UnknownTaskIgnore,
		Logger:            logger,
	}
}

// withStore opens the snapshot, runs fn and, when fn succeeds and save is
// set, writes the snapshot back.
func withStore(cmd *cobra.Command, f *storeFlags, save bool, fn func(b *bus.Bus) error) error {
	cfg, err := loadConfig(cmd, f.configPath)
	if err != nil {
		return err
	}
	path := cfg.State.Path
	if f.statePath != "" {
		path = f.statePath
	}

	logger := log.New(io.Discard, "", 0)
	if f.verbose {
		logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
	}

	b, err := bus.Open(path, busOptions(cfg, logger))
	if err != nil {
		return fmt.Errorf("open state %s: %w", path, err)
	}
	if err := fn(b); err != nil {
		return err
	}
	if !save {
		return nil
	}
	if err := b.SaveState(path); err != nil {
		return err
	}
	return nil
}
