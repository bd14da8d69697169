package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/tutor/internal/credential"
)

func newCredentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage per-user provider API keys",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <user-id> <api-key>",
			Short: "Store the API key used by the user's personalized tier",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				key := strings.TrimSpace(args[1])
				if key == "" {
					return fmt.Errorf("api key must not be blank")
				}
				database, err := openDB(cmd, true)
				if err != nil {
					return err
				}
				defer database.Close()
				store := &credential.SQLiteStore{DB: database}
				if err := store.Put(cmd.Context(), args[0], key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s stored key for user %s\n", color.GreenString("✓"), args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "unset <user-id>",
			Short: "Remove the user's API key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				database, err := openDB(cmd, true)
				if err != nil {
					return err
				}
				defer database.Close()
				store := &credential.SQLiteStore{DB: database}
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s removed key for user %s\n", color.GreenString("✓"), args[0])
				return nil
			},
		},
	)
	return cmd
}
