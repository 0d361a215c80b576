package commands

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/NethermindEth/nfaclaw-agent/auth"
	"github.com/NethermindEth/nfaclaw-agent/crypto"
)

var (
	authWallet   string
	authToken    uint64
	authChain    uint64
	authContract string
	authTTL      time.Duration
	authKey      string
	authJSON     bool
)

// AuthMsgCmd builds, and optionally signs, a chat auth message.
var AuthMsgCmd = &cobra.Command{
	Use:   "authmsg",
	Short: "Build a chat auth message for manual API testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wallet := authWallet
		var signer func(string) (string, error)
		if authKey != "" {
			hexKey, err := crypto.NormalizePrivateKey(authKey)
			if err != nil {
				return err
			}
			key, err := crypto.ParsePrivateKey(hexKey)
			if err != nil {
				return err
			}
			addr := ethcrypto.PubkeyToAddress(key.PublicKey)
			if wallet == "" {
				wallet = addr.Hex()
			} else if !auth.IsHexAddress(wallet) || common.HexToAddress(wallet) != addr {
				return fmt.Errorf("--wallet %s does not match key address %s", wallet, addr.Hex())
			}
			signer = func(msg string) (string, error) { return crypto.SignMessage(key, msg) }
		}
		if wallet == "" {
			return fmt.Errorf("one of --wallet or --key is required")
		}

		f, err := auth.NewFields(wallet, authToken, authChain, authContract, time.Now(), authTTL)
		if err != nil {
			return err
		}
		msg := auth.BuildMessage(f)

		out := map[string]interface{}{
			"walletAddress": wallet,
			"tokenId":       authToken,
			"authMessage":   msg,
		}
		if signer != nil {
			sig, err := signer(msg)
			if err != nil {
				return err
			}
			out["signature"] = sig
		}
		if authJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		if sig, ok := out["signature"]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "\nsignature: %s\n", sig)
		}
		return nil
	},
}

func init() {
	AuthMsgCmd.Flags().StringVar(&authWallet, "wallet", "", "wallet address (default: address of --key)")
	AuthMsgCmd.Flags().Uint64Var(&authToken, "token", 0, "token id")
	AuthMsgCmd.Flags().Uint64Var(&authChain, "chain", 97, "chain id")
	AuthMsgCmd.Flags().StringVar(&authContract, "contract", "", "miner contract address")
	AuthMsgCmd.Flags().DurationVar(&authTTL, "ttl", 5*time.Minute, "validity window, at most 10m")
	AuthMsgCmd.Flags().StringVar(&authKey, "key", "", "private key to sign with")
	AuthMsgCmd.Flags().BoolVar(&authJSON, "json", false, "print a JSON body fragment")
	_ = AuthMsgCmd.MarkFlagRequired("token")
	_ = AuthMsgCmd.MarkFlagRequired("contract")
}
