package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/seal"
)

// newKeygenCommand prints a fresh signing identity and session-log box key
// in .env form.
func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing identity and an encryption key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := record.GenerateKey()
			if err != nil {
				return err
			}
			bk, err := seal.GenerateKeyPair()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# author %s\n", k.AuthorHex())
			fmt.Fprintf(out, "SPOTSYNC_SECRET_KEY=%s\n", k.SeedHex())
			fmt.Fprintf(out, "# box public %s\n", seal.KeyHex(bk.Public))
			fmt.Fprintf(out, "SPOTSYNC_BOX_SECRET=%s\n", seal.KeyHex(bk.Private))
			return nil
		},
	}
}
