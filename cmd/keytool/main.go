// keytool creates and inspects the encrypted entropy files holding the
// oracle's signing key.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cadenabitcoin/dlcoracle/pkg/crypto"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "keytool",
		Short:         "Manage oracle secret files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(createCmd(), inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func createCmd() *cobra.Command {
	var (
		entropyHex string
		network    string
		password   string
		out        string
		long       bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new secret file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var entropy []byte
			if entropyHex != "" {
				var err error
				entropy, err = hex.DecodeString(entropyHex)
				if err != nil {
					return fmt.Errorf("invalid entropy hex: %w", err)
				}
			} else {
				size := 16
				if long {
					size = 32
				}
				entropy = make([]byte, size)
				if _, err := rand.Read(entropy); err != nil {
					return fmt.Errorf("generate entropy: %w", err)
				}
			}

			if err := crypto.SaveSecretFile(out, password, entropy, network); err != nil {
				return err
			}
			signer, err := crypto.NewSignerWithEntropy(hex.EncodeToString(entropy), network)
			if err != nil {
				return err
			}
			pubKey, err := signer.PublicKey(0)
			if err != nil {
				return err
			}
			fmt.Printf("Secret file written to %s\n", out)
			fmt.Printf("Network:    %s\n", network)
			fmt.Printf("Xpub:       %s\n", signer.Xpub())
			fmt.Printf("Public key: %s\n", pubKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&entropyHex, "entropy", "", "entropy as hex (16 or 32 bytes); random when omitted")
	cmd.Flags().StringVar(&network, "network", crypto.NetworkSignet, "network, bitcoin or signet")
	cmd.Flags().StringVar(&password, "password", "", "encryption password")
	cmd.Flags().StringVar(&out, "out", "secret.sec", "output file")
	cmd.Flags().BoolVar(&long, "long", false, "generate 32 bytes of entropy instead of 16")
	return cmd
}

func inspectCmd() *cobra.Command {
	var (
		file     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the keys derived from a secret file",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := crypto.NewSignerFromSecretFile(file, password)
			if err != nil {
				return err
			}
			pubKey, err := signer.PublicKey(0)
			if err != nil {
				return err
			}
			fmt.Printf("Network:    %s\n", signer.Network())
			fmt.Printf("Xpub:       %s\n", signer.Xpub())
			fmt.Printf("Public key: %s\n", pubKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "secret.sec", "secret file to read")
	cmd.Flags().StringVar(&password, "password", "", "decryption password")
	return cmd
}
