package commands

import (
	"github.com/spf13/cobra"
)

func quoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote <symbol>",
		Short: "Fetch a market snapshot for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := resolveSymbol(cmd, args[0])
			if err != nil {
				return err
			}
			q, err := appCtx.Client.GetQuote(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printJSON(q)
		},
	}
}
