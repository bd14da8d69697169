package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/tutor/internal/db"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the database is reachable and report table sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			database, err := openDB(cmd, false)
			if err != nil {
				fmt.Fprintf(out, "%s connection failed: %v\n", color.RedString("✗"), err)
				return err
			}
			defer database.Close()

			counts, err := db.TableCounts(database)
			if err != nil {
				fmt.Fprintf(out, "%s query failed: %v\n", color.RedString("✗"), err)
				return err
			}
			fmt.Fprintf(out, "%s connection ok\n", color.GreenString("✓"))
			tables := make([]string, 0, len(counts))
			for t := range counts {
				tables = append(tables, t)
			}
			sort.Strings(tables)
			for _, t := range tables {
				fmt.Fprintf(out, "  %-14s %d\n", t, counts[t])
			}
			return nil
		},
	}
}
