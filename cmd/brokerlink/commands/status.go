package commands

import (
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show handshake state and stored access token age",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := map[string]any{
				"state":    appCtx.Machine.State().String(),
				"base_url": appCtx.Config.BaseURL,
				"live":     appCtx.Config.Live,
			}

			tok, storedAt, ok, err := appCtx.Tokens.Load()
			switch {
			case err != nil:
				out["token"] = map[string]any{"error": err.Error()}
			case !ok:
				out["token"] = map[string]any{"present": false}
			default:
				out["token"] = map[string]any{
					"present":     true,
					"oauth_token": tok.Token,
					"stored_at":   storedAt,
					"near_expiry": appCtx.Tokens.NearExpiry(time.Now()),
				}
			}
			return printJSON(out)
		},
	}
}
