package commands

import (
	"github.com/spf13/cobra"
)

func handshakeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Run the full OAuth handshake and derive a live session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Machine.Establish(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"state":              appCtx.Machine.State().String(),
				"session_created_at": sess.CreatedAt,
				"session_expires_at": sess.ExpiresAt,
			})
		},
	}
}
