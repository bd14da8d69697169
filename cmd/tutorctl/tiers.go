package main

import (
	"database/sql"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/tutor/internal/db"
)

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Show which tier answered and how often each tier failed",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := openDB(cmd, false)
			if err != nil {
				return err
			}
			defer database.Close()
			return runTiers(cmd.OutOrStdout(), database)
		},
	}
}

var outcomeColors = map[string]*color.Color{
	"personalized": color.New(color.FgGreen),
	"generic":      color.New(color.FgCyan),
	"heuristic":    color.New(color.FgYellow),
	"welcome":      color.New(color.Faint),
}

func runTiers(out io.Writer, database *sql.DB) error {
	outcomes, err := db.OutcomeCounts(database)
	if err != nil {
		return fmt.Errorf("outcome counts: %w", err)
	}
	failures, err := db.FailureCounts(database)
	if err != nil {
		return fmt.Errorf("failure counts: %w", err)
	}

	var total int64
	for _, o := range outcomes {
		total += o.Count
	}

	fmt.Fprintln(out, color.New(color.Bold).Sprint("Resolved replies"))
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tCOUNT\tSHARE")
	for _, o := range outcomes {
		name := o.Outcome
		if c, ok := outcomeColors[name]; ok {
			name = c.Sprint(name)
		}
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\n", name, o.Count, 100*float64(o.Count)/float64(total))
	}
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "(none)\t0\t-")
	}
	w.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, color.New(color.Bold).Sprint("Tier failures"))
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIER\tCLASS\tCOUNT")
	for _, f := range failures {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Tier, f.Class, color.RedString("%d", f.Count))
	}
	if len(failures) == 0 {
		fmt.Fprintln(w, "(none)\t-\t0")
	}
	return w.Flush()
}
