package commands

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"brokerlink/internal/domain"
)

// order <symbol>: submit a market order plus a protective stop priced off
// the last trade.
func orderCmd() *cobra.Command {
	var (
		side         string
		qty          string
		stopMultiple string
		key          string
	)
	cmd := &cobra.Command{
		Use:   "order <symbol>",
		Short: "Place a market order with a protective stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s domain.Side
			switch side {
			case "buy", "BUY":
				s = domain.Buy
			case "sell", "SELL":
				s = domain.Sell
			default:
				return fmt.Errorf("--side must be buy or sell, got %q", side)
			}
			quantity, err := decimal.NewFromString(qty)
			if err != nil {
				return fmt.Errorf("parsing --qty: %w", err)
			}
			multiple, err := decimal.NewFromString(stopMultiple)
			if err != nil {
				return fmt.Errorf("parsing --stop-multiple: %w", err)
			}

			ref, err := resolveSymbol(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := appCtx.Client.PlaceOrderWithStop(cmd.Context(), ref, s, quantity, multiple, key)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&side, "side", "", "order side (buy or sell)")
	cmd.Flags().StringVar(&qty, "qty", "", "order quantity")
	cmd.Flags().StringVar(&stopMultiple, "stop-multiple", "0.95", "stop price as a multiple of the last trade")
	cmd.Flags().StringVar(&key, "key", "", "client order ID for idempotent resubmission (default: fresh UUID)")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}
