package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage stored documents",
	Long:  `List and remove document snapshots in the configured store.`,
}

var docsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := newStack(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		ids, err := st.store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No documents found.")
			return nil
		}
		fmt.Fprintln(out, "Documents:")
		for _, id := range ids {
			fmt.Fprintln(out, "- "+id)
		}
		return nil
	},
}

var docsRmCmd = &cobra.Command{
	Use:   "rm <doc-id>...",
	Short: "Remove one or more documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := newStack(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		var errs []error
		out := cmd.OutOrStdout()
		for _, id := range args {
			if err := st.store.Delete(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("removing %s: %w", id, err))
				continue
			}
			fmt.Fprintf(out, "Removed document '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsLsCmd)
	docsCmd.AddCommand(docsRmCmd)
}
