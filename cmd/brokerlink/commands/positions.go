package commands

import (
	"github.com/spf13/cobra"

	"brokerlink/internal/domain"
)

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := appCtx.Client.ListPositions(cmd.Context())
			if err != nil {
				return err
			}
			if positions == nil {
				positions = []domain.Position{}
			}
			return printJSON(positions)
		},
	}
}
