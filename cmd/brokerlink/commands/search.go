package commands

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"brokerlink/internal/domain"
)

// search <symbol>: list contracts matching the symbol, optionally narrowed
// to an option series.
func searchCmd() *cobra.Command {
	var (
		expiry string
		strike string
		right  string
	)
	cmd := &cobra.Command{
		Use:   "search <symbol>",
		Short: "Find contracts by symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := domain.ContractQuery{Symbol: args[0], Expiry: expiry}
			if strike != "" {
				s, err := decimal.NewFromString(strike)
				if err != nil {
					return fmt.Errorf("parsing --strike: %w", err)
				}
				q.Strike = s
			}
			switch right {
			case "":
			case "C", "P":
				q.Right = domain.Right(right)
			default:
				return fmt.Errorf("--right must be C or P, got %q", right)
			}

			refs, err := appCtx.Client.SearchContract(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(refs)
		},
	}
	cmd.Flags().StringVar(&expiry, "expiry", "", "option expiry (YYYYMMDD)")
	cmd.Flags().StringVar(&strike, "strike", "", "option strike price")
	cmd.Flags().StringVar(&right, "right", "", "option right (C or P)")
	return cmd
}
