package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/tutor/internal/config"
	"github.com/stupiduntilnot/tutor/internal/logging"
	"github.com/stupiduntilnot/tutor/internal/pipeline"
	"github.com/stupiduntilnot/tutor/internal/resolve"
)

func newAskCmd() *cobra.Command {
	var (
		userID  string
		email   string
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Resolve one message through the tier pipeline and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := "error"
			if verbose {
				level = "debug"
			}
			logger, closeLog, err := logging.New(logging.Config{Level: level})
			if err != nil {
				return err
			}
			defer closeLog()

			database, err := openDB(cmd, true)
			if err != nil {
				return err
			}
			defer database.Close()

			orchestrator, err := pipeline.Build(&cfg, database, logger)
			if err != nil {
				return err
			}
			res, err := orchestrator.Run(cmd.Context(), resolve.Input{
				Message:   strings.Join(args, " "),
				UserID:    userID,
				UserEmail: email,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Text)
			if verbose {
				fmt.Fprintf(out, "\noutcome=%s latency=%s\n", res.Outcome, res.Latency)
				for _, a := range res.Attempts {
					state := "failed"
					if a.Skipped {
						state = "skipped"
					}
					fmt.Fprintf(out, "  %s %s (%s)\n", a.Tier, state, a.Class)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id whose stored key is used")
	cmd.Flags().StringVar(&email, "email", "", "user email forwarded to the provider")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the outcome and failed tiers")
	return cmd
}
