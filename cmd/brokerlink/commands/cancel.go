package commands

import (
	"github.com/spf13/cobra"
)

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel a working order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appCtx.Client.CancelOrder(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(map[string]string{"order_id": args[0], "status": "cancelled"})
		},
	}
}
