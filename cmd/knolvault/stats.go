package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conorfennell/knolvault/internal/stats"
)

func newStatsCommand() *cobra.Command {
	var rangeName string
	command := &cobra.Command{
		Use:   "stats",
		Short: "Show maturity, streaks, review totals and the due forecast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := stats.ParseRange(rangeName)
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				ctx := cmd.Context()
				now := time.Now()
				calc := stats.New(a.store, a.store.Calculator())

				m, err := calc.Maturity(ctx)
				if err != nil {
					return err
				}
				streaks, err := calc.Streaks(ctx, now)
				if err != nil {
					return err
				}
				summary, err := calc.RangeSummary(ctx, r, now)
				if err != nil {
					return err
				}
				forecast, err := calc.FutureDue(ctx, r, now)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				bold := color.New(color.Bold)
				bold.Fprintln(out, "Cards")
				fmt.Fprintf(out, "  new %d  learning %d  young %d  mature %d  suspended %d  (total %d)\n",
					m.New, m.Learning, m.Young, m.Mature, m.Suspended, m.Total())

				bold.Fprintln(out, "Streak")
				fmt.Fprintf(out, "  current %d days, longest %d days\n", streaks.Current, streaks.Longest)

				bold.Fprintf(out, "Reviews (%s)\n", r)
				fmt.Fprintf(out, "  %d reviews on %d days, %.1f per study day, %s accuracy, %s spent\n",
					summary.Reviews, summary.StudyDays, summary.PerStudyDay,
					accuracy(summary.Accuracy), summary.TimeSpent.Round(time.Second))
				fmt.Fprintf(out, "  again %s  hard %d  good %d  easy %d  new cards %d\n",
					color.RedString("%d", summary.Again), summary.Hard, summary.Good, summary.Easy, summary.NewCards)

				bold.Fprintf(out, "Due (%s)\n", r)
				printForecast(out, forecast)
				return nil
			})
		},
	}
	command.Flags().StringVarP(&rangeName, "range", "r", string(stats.Month), "window: backlog, 1m, 3m, 1y or all")
	return command
}

func accuracy(a float64) string {
	s := fmt.Sprintf("%.0f%%", a*100)
	switch {
	case a >= 0.9:
		return color.GreenString("%s", s)
	case a >= 0.75:
		return color.YellowString("%s", s)
	}
	return color.RedString("%s", s)
}

// printForecast draws one bar per non-empty day, scaled to the busiest day.
func printForecast(w io.Writer, f stats.Forecast) {
	if f.Total == 0 {
		fmt.Fprintln(w, "  nothing due")
		return
	}
	peak := 0
	for _, b := range f.Buckets {
		peak = max(peak, b.Count)
	}
	const width = 40
	for _, b := range f.Buckets {
		if b.Count == 0 {
			continue
		}
		bar := strings.Repeat("#", max(1, b.Count*width/peak))
		fmt.Fprintf(w, "  %s %+4d %5d %s\n", b.Date, b.Offset, b.Count, color.CyanString(bar))
	}
	fmt.Fprintf(w, "  total %d\n", f.Total)
}
