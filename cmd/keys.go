package cmd

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/keybridge/internal/keyseq"
)

type keysOutput struct {
	Canonical string            `json:"canonical"`
	Events    []keyseq.KeyEvent `json:"events"`
}

func newKeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys <notation>",
		Short: "Parses a key sequence and prints the key events it produces",
		Long: `Parses a key sequence such as "gg", "<c-a>" or "<s-tab><cr>" and prints
the key events the bridge would dispatch for it, as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, ok := keyseq.Parse(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", keyseq.ErrInvalidSequence, args[0])
			}
			out := keysOutput{Canonical: keyseq.Format(events), Events: events}

			compact, _ := cmd.Flags().GetBool("compact")
			var (
				b   []byte
				err error
			)
			if compact {
				b, err = json.Marshal(out)
			} else {
				b, err = json.MarshalIndent(out, "", "  ")
			}
			if err != nil {
				return fmt.Errorf("encoding key events: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	keysCmd.Flags().Bool("compact", false, "Print the JSON on a single line.")
	return keysCmd
}
