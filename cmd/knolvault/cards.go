package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conorfennell/knolvault/internal/domain"
	"github.com/conorfennell/knolvault/internal/fsrs"
	"github.com/conorfennell/knolvault/internal/knol"
	"github.com/conorfennell/knolvault/internal/vault"
)

func newDueCommand() *cobra.Command {
	var limit int
	command := &cobra.Command{
		Use:   "due",
		Short: "List the cards available for study today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				counts, err := a.store.Counts(cmd.Context())
				if err != nil {
					return err
				}
				due, err := a.store.DueCards(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "New %s  Learning %s  Review %s\n",
					color.BlueString("%d", counts.New),
					color.RedString("%d", counts.Learning),
					color.GreenString("%d", counts.Review))
				for _, c := range due {
					fmt.Fprintf(out, "%s  %-10s  %s\n", c.ID, c.State, questionOf(c))
				}
				return nil
			})
		},
	}
	command.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of cards to list (0 for all)")
	return command
}

func newOrphansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orphans",
		Short: "List cards whose source document cannot be found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				orphans, err := a.store.GetOrphanedCards(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(orphans) == 0 {
					fmt.Fprintln(out, "No orphaned cards.")
					return nil
				}
				for _, o := range orphans {
					fmt.Fprintf(out, "%s  %s  %s\n", o.Card.ID, color.YellowString("%s", o.Reason), questionOf(o.Card))
				}
				return nil
			})
		},
	}
}

func newReviewCommand() *cobra.Command {
	var spent time.Duration
	command := &cobra.Command{
		Use:   "review <card-id> <rating>",
		Short: "Record a review (rating: again, hard, good, easy or 1-4)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := parseRating(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				card, err := a.store.ReviewCard(cmd.Context(), args[0], rating, spent, fsrs.DefaultParams())
				if err != nil {
					return fmt.Errorf("failed to review card %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s rated %s, next due %s (%s)\n",
					card.ID, rating, card.Due.Format("2006-01-02 15:04"), card.State)
				return nil
			})
		},
	}
	command.Flags().DurationVar(&spent, "time", 0, "time spent answering")
	return command
}

func newAddCommand() *cobra.Command {
	var (
		source string
		tags   []string
	)
	command := &cobra.Command{
		Use:   "add <question> <answer>",
		Short: "Create a new card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				card := domain.Card{
					ID:       vault.NewID(),
					Due:      time.Now(),
					State:    domain.New,
					Question: domain.StringPtr(args[0]),
					Answer:   domain.StringPtr(args[1]),
					Tags:     tags,
				}
				if source != "" {
					card.SourceUID = domain.StringPtr(source)
				}
				if err := a.store.SetCard(cmd.Context(), card); err != nil {
					return fmt.Errorf("failed to add card: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), card.ID)
				return nil
			})
		},
	}
	command.Flags().StringVar(&source, "source", "", "uid of the source note")
	command.Flags().StringSliceVar(&tags, "tag", nil, "tag to attach (repeatable)")
	return command
}

func parseRating(s string) (domain.Rating, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if r := domain.Rating(n); r.Valid() {
			return r, nil
		}
	}
	for r := domain.Again; r <= domain.Easy; r++ {
		if strings.EqualFold(s, r.String()) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown rating %q, expected again, hard, good, easy or 1-4", s)
}

func questionOf(c domain.Card) string {
	if !c.HasContent() {
		return color.New(color.Faint).Sprint("(no question)")
	}
	q := *c.Question
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		q = q[:i] + " ..."
	}
	return q
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import [document...]",
		Short: "Create cards for the Q:/A: blocks of vault documents",
		Long:  "Create cards for the Q:/A: blocks of the named documents, or of every document declaring a source uid.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				im := knol.NewImporter(a.vault, a.index, a.store, a.cfg.UIDField, a.log)
				var results []knol.Result
				if len(args) == 0 {
					var err error
					if results, err = im.ImportAll(cmd.Context()); err != nil {
						return err
					}
				}
				for _, p := range args {
					res, err := im.ImportDocument(cmd.Context(), p)
					if err != nil {
						return fmt.Errorf("failed to import %s: %w", p, err)
					}
					results = append(results, res)
				}

				out := cmd.OutOrStdout()
				for _, r := range results {
					fmt.Fprintf(out, "%s: %d blocks, %s new", r.Path, r.Blocks, color.GreenString("%d", r.Created))
					if len(r.Stale) > 0 {
						fmt.Fprintf(out, ", %s", color.YellowString("%d stale", len(r.Stale)))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}
