package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinyfeat/pkg/config"
	"github.com/nicktill/tinyfeat/pkg/logger"
	"github.com/nicktill/tinyfeat/pkg/matrix"
	"github.com/nicktill/tinyfeat/pkg/storage"
	"github.com/nicktill/tinyfeat/pkg/storage/badger"
)

// app is the state shared by every command.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "tinyfeat",
		Short:        "Compute, merge and sync time-series feature matrices",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			logger.Init(cfg.Log)
			a.cfg = cfg
			a.log = slog.Default()
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("TINYFEAT_CONFIG"), "YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newInitCmd(a),
		newComputeCmd(a),
		newMergeCmd(a),
		newSyncCmd(a),
		newRemoteInitCmd(a),
		newRemoteDeleteCmd(a),
		newOperationsCmd(),
		newInspectCmd(a),
		newListCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newSubsetCmd(a),
		newClearCmd(a),
		newServeCmd(a),
	)
	return root
}

// openStore opens the badger snapshot store described by the config.
func (a *app) openStore() (*badger.Storage, error) {
	if !a.cfg.Store.InMemory {
		if err := os.MkdirAll(a.cfg.Store.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store, err := badger.New(badger.Config{
		Path:        a.cfg.Store.Path,
		InMemory:    a.cfg.Store.InMemory,
		MaxMemoryMB: a.cfg.Store.MaxMemoryMB,
		Logger:      a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return store, nil
}

// withStore runs fn against an open store and closes it afterwards.
func (a *app) withStore(fn func(store *badger.Storage) error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.log.Warn("closing snapshot store failed", slog.Any("error", cerr))
		}
	}()
	return fn(store)
}

func (a *app) load(ctx context.Context, store storage.Store, arg string) (storage.Handle, *matrix.Matrix, error) {
	h, err := storage.ParseHandle(arg)
	if err != nil {
		return "", nil, err
	}
	m, err := store.Load(ctx, h)
	if err != nil {
		return "", nil, err
	}
	return h, m, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
