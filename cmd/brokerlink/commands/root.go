package commands

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"brokerlink/internal/app"
	"brokerlink/internal/domain"
)

var (
	envFile string
	appCtx  *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:          "brokerlink",
		Short:        "OAuth-authenticated brokerage trading CLI",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.FromEnv(envFile)
			if err != nil {
				return err
			}
			appCtx, err = app.NewWire(cfg)
			return err
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env", "", "dotenv file to load before reading the environment")

	root.AddCommand(
		handshakeCmd(), statusCmd(), fingerprintCmd(),
		searchCmd(), quoteCmd(), orderCmd(), cancelCmd(), positionsCmd(),
	)
	return root.Execute()
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// resolveSymbol finds the single contract a trading command should act on.
func resolveSymbol(cmd *cobra.Command, symbol string) (domain.ContractRef, error) {
	refs, err := appCtx.Client.SearchContract(cmd.Context(), domain.ContractQuery{Symbol: symbol})
	if err != nil {
		return domain.ContractRef{}, err
	}
	if len(refs) > 1 {
		return domain.ContractRef{}, fmt.Errorf("%q is ambiguous: %d contracts match, narrow with search first", symbol, len(refs))
	}
	return refs[0], nil
}
