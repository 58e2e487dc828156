package commands

import (
	"github.com/spf13/cobra"

	"brokerlink/internal/keystore"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the signature and encryption public key fingerprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := keystore.Fingerprint(&appCtx.Keys.Signature.PublicKey)
			if err != nil {
				return err
			}
			enc, err := keystore.Fingerprint(&appCtx.Keys.Encryption.PublicKey)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"signature_key":  sig,
				"encryption_key": enc,
				"dh_prime_bits":  appCtx.Keys.P.BitLen(),
			})
		},
	}
}
