package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/team-broker/security"
)

func newKeygenCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an encryption key for team secrets",
		Long: `Generates a random AES-256 key. Without --out the hex-encoded key is
printed for use as TEAM_BROKER_ENCRYPTION_KEY. With --out the key is written
to a new file readable only by the current user; an existing file is never
overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				key, err := security.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
				return nil
			}

			if _, err := security.LoadKeyFile(out, security.KeyFileOptions{AllowGeneration: true}); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Encryption key available at %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the key to this file instead of stdout")
	return cmd
}
