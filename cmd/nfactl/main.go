package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/nfaclaw-agent/cmd/nfactl/commands"
)

var rootCmd = &cobra.Command{
	Use:   "nfactl",
	Short: "NFAClaw operator CLI",
	Long:  `Offline tools for inspecting NFAClaw agents and exercising the chat API.`,
}

func init() {
	rootCmd.AddCommand(commands.DeriveCmd)
	rootCmd.AddCommand(commands.PersonaCmd)
	rootCmd.AddCommand(commands.RolesCmd)
	rootCmd.AddCommand(commands.AuthMsgCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
