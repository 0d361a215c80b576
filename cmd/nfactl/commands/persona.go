package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/nfaclaw-agent/persona"
)

var (
	personaRole    int
	personaSeed    string
	personaCatalog string
	personaJSON    bool
)

// PersonaCmd prints the system prompt a token would chat with.
var PersonaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Build the persona of a role id and trait seed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		builder, err := loadBuilder(personaCatalog)
		if err != nil {
			return err
		}
		p, err := builder.BuildHex(personaRole, personaSeed)
		if err != nil {
			return err
		}
		if personaJSON {
			return printJSON(cmd.OutOrStdout(), p)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), p.SystemPrompt)
		return err
	},
}

// RolesCmd lists the role templates of the catalog.
var RolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the role templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		builder, err := loadBuilder(personaCatalog)
		if err != nil {
			return err
		}
		for _, r := range builder.Catalog().Roles {
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", r.ID, r.Name, r.Expertise)
		}
		return nil
	},
}

func init() {
	PersonaCmd.Flags().IntVar(&personaRole, "role", 0, "role id")
	PersonaCmd.Flags().StringVar(&personaSeed, "seed", "", "bytes32 trait seed, 0x-prefixed hex")
	PersonaCmd.Flags().BoolVar(&personaJSON, "json", false, "print the whole profile as JSON")
	_ = PersonaCmd.MarkFlagRequired("seed")

	for _, c := range []*cobra.Command{PersonaCmd, RolesCmd} {
		c.Flags().StringVar(&personaCatalog, "catalog", "", "persona catalog YAML (default: embedded)")
	}
}

func loadBuilder(path string) (*persona.Builder, error) {
	if path == "" {
		return persona.NewBuilder(nil), nil
	}
	catalog, err := persona.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	return persona.NewBuilder(catalog), nil
}
