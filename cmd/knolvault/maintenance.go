package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conorfennell/knolvault/internal/vault"
)

func newMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge changes another device wrote to the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				res, err := a.store.MergeFromDisk(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to merge snapshot: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "merged %d cards, %d conflicts resolved from disk, %d source notes\n",
					res.Merged, res.Conflicts, res.Notes)
				return nil
			})
		},
	}
}

func newProjectsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "projects",
		Short: "List projects or clean them up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				projects, err := a.store.Projects(cmd.Context())
				if err != nil {
					return err
				}
				for _, p := range projects {
					fmt.Fprintf(cmd.OutOrStdout(), "%-30s %d notes\n", p.Name, p.NoteCount)
				}
				return nil
			})
		},
	}
	command.AddCommand(&cobra.Command{
		Use:   "gc",
		Short: "Delete projects no source note belongs to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				n, err := a.store.DeleteEmptyProjects(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d empty projects\n", n)
				return nil
			})
		},
	})
	return command
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the card store in step with the vault until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withApp(cmd, func(a *app) error {
				var bus vault.Bus
				// The reconciler reads the index, so the index must see events first.
				bus.Subscribe(a.index)
				bus.Subscribe(a.sync)

				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("watching %s, press Ctrl-C to stop", a.vault.Root()))
				return vault.NewWatcher(a.vault, &bus, a.log).Run(ctx)
			})
		},
	}
}
