package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pharmadesk "github.com/putto11262002/pharmadesk/app"
	"github.com/putto11262002/pharmadesk/pkg/catalog"
	"github.com/putto11262002/pharmadesk/pkg/exchange"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Medicine catalog tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Parse a catalog file and report what it contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			snapshot, err := catalog.Parse(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d medicines\n", snapshot.Len())
			for _, c := range snapshot.Categories() {
				fmt.Fprintf(out, "  %s: %d\n", c, len(snapshot.Category(c)))
			}
			return nil
		},
	})
	return cmd
}

func newRatesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Exchange rate tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Fetch the dollar to rial rate and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := pharmadesk.OpenDB(config)
			if err != nil {
				return err
			}
			defer db.Close()

			logger := pharmadesk.NewLogger(config.Log.Level)
			rates := pharmadesk.NewRates(config, db, exchange.NewMemoryCache(nil), logger)
			rate, err := rates.RefreshIRR(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "1 %s = %.0f %s (%s)\n", rate.From, rate.Value, rate.To, rate.Provider)
			return nil
		},
	})
	return cmd
}
