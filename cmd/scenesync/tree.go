package main

import (
	"fmt"

	"github.com/aretw0/scenesync/internal/presentation/graph"
	"github.com/aretw0/scenesync/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var treeCmd = &cobra.Command{
	Use:   "tree <doc-id>",
	Short: "Print the scene tree of a stored document",
	Long:  `Prints the stored snapshot as an indented tree, or as a Mermaid diagram (graph TD) with --mermaid.`,
	Args:  cobra.ExactArgs(1),
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

		snap, err := st.store.Load(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		if mermaid, _ := cmd.Flags().GetBool("mermaid"); mermaid {
			highlight, _ := cmd.Flags().GetStringSlice("highlight")
			var overlay *graph.Overlay
			if len(highlight) > 0 {
				overlay = &graph.Overlay{Selected: highlight}
			}
			fmt.Fprint(out, graph.GenerateMermaid(*snap, overlay))
			return nil
		}

		p := tui.NewTreePrinter(out)
		p.ShowFields, _ = cmd.Flags().GetBool("fields")
		p.Print(*snap)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().Bool("mermaid", false, "Print a Mermaid flowchart instead of a tree")
	treeCmd.Flags().StringSlice("highlight", nil, "Entity ids to highlight in the Mermaid output")
	treeCmd.Flags().Bool("fields", false, "Show field values")
}
