package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/scenesync"
	"github.com/aretw0/scenesync/internal/presentation/tui"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/notify"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply <doc-id> <envelope.json|->",
	Short: "Apply a patch envelope to a stored document",
	Long: `Loads the document from the configured store, replays the envelope
({"mutationId": ..., "patches": [...]}) and saves the result. With the redis
store the resulting changes are also published to live replicas.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID, source := args[0], args[1]
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		env, err := readEnvelope(cmd.InOrStdin(), source)
		if err != nil {
			return err
		}

		st, err := newStack(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		docs := st.manager(domain.Hooks{}, scenesync.WithSchedule(notify.ModeImmediate, 0))
		defer docs.CloseAll(cmd.Context())

		ctx := cmd.Context()
		doc, err := docs.Open(ctx, docID)
		if err != nil {
			return err
		}
		res, err := doc.Replica.Apply(env)
		if err != nil {
			return err
		}
		if err := docs.Persist(ctx, docID); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if res.Duplicate {
			fmt.Fprintf(out, "%s: already applied\n", env.MutationID)
		} else {
			fmt.Fprintf(out, "%s: %d applied, %d stale, %d missing, %d invalid\n",
				env.MutationID, res.Applied, res.Stale, res.Missing, res.Invalid)
		}

		if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
			return nil
		}
		tui.NewTreePrinter(out).Print(doc.Replica.Snapshot())
		return nil
	},
}

func readEnvelope(stdin io.Reader, source string) (domain.PatchEnvelope, error) {
	var env domain.PatchEnvelope
	var data []byte
	var err error
	if source == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return env, fmt.Errorf("failed to read envelope: %w", err)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to parse envelope: %w", err)
	}
	return env, nil
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolP("quiet", "q", false, "Only print the apply summary")
}
