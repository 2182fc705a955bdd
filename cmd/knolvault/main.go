package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knolvault/internal/config"
	"github.com/conorfennell/knolvault/internal/fieldindex"
	"github.com/conorfennell/knolvault/internal/storage"
	"github.com/conorfennell/knolvault/internal/vault"
	"github.com/conorfennell/knolvault/internal/vaultsync"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if _, fprintfErr := fmt.Fprintf(os.Stderr, "failed to execute a command: %+v\n", err); fprintfErr != nil {
			panic(fmt.Errorf("failed to output an error: %w. Reason: %w", err, fprintfErr))
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "knolvault",
		Short:         "Spaced repetition for the flashcards of a markdown vault",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newStatsCommand(),
		newDueCommand(),
		newOrphansCommand(),
		newReviewCommand(),
		newAddCommand(),
		newImportCommand(),
		newMergeCommand(),
		newProjectsCommand(),
		newWatchCommand(),
	)
	return root
}

// app is the fully wired stack for one command invocation.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	vault *vault.Vault
	index *fieldindex.Index
	store *storage.Store
	sync  *vaultsync.Reconciler
}

// openApp loads the configuration, indexes the vault, opens the card store
// and reconciles source notes with the documents on disk.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	flags := cmd.Root().PersistentFlags()
	configFile, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := config.NewLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	v := vault.NewOS(cfg.VaultDir)
	ix := fieldindex.New(v, log)
	ix.Register(cfg.UIDField, fieldindex.String, true)
	if cfg.ProjectsField != "" {
		ix.Register(cfg.ProjectsField, fieldindex.Array, false)
	}
	if err := ix.Rebuild(); err != nil {
		return nil, fmt.Errorf("failed to index vault: %w", err)
	}

	store := storage.New(v, storage.Options{
		Folder:       cfg.DataFolder,
		File:         cfg.SnapshotFile,
		Debounce:     cfg.FlushDebounce,
		DayStartHour: cfg.DayStartHour,
		Logger:       log,
		Resolver: storage.SourceResolverFunc(func(uid string) (string, bool) {
			return ix.GetFileByValue(cfg.UIDField, uid)
		}),
	})
	if err := store.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open card store: %w", err)
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		vault: v,
		index: ix,
		store: store,
		sync:  vaultsync.New(ix, store, cfg.UIDField, cfg.ProjectsField, log),
	}
	if _, err := a.sync.RunSync(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("failed to reconcile vault: %w", err)
	}
	return a, nil
}

// close flushes pending writes.
func (a *app) close(ctx context.Context) error {
	if err := a.store.Close(ctx); err != nil {
		return fmt.Errorf("failed to close card store: %w", err)
	}
	return nil
}

// withApp runs fn against an open app and always closes it.
func withApp(cmd *cobra.Command, fn func(a *app) error) (err error) {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(context.WithoutCancel(cmd.Context())); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
