package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/nfaclaw-agent/traits"
)

var deriveSeed string

// DeriveCmd prints the trait profile of a seed.
var DeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive the trait profile of a trait seed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := traits.DeriveHex(deriveSeed)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

func init() {
	DeriveCmd.Flags().StringVar(&deriveSeed, "seed", "", "bytes32 trait seed, 0x-prefixed hex")
	_ = DeriveCmd.MarkFlagRequired("seed")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
