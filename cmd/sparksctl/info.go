package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	priceModel      string
	priceNumOutputs int
	modThreshold    float64
)

func init() {
	priceCmd.Flags().StringVarP(&priceModel, "model", "m", "", "model name, defaults to the server default")
	priceCmd.Flags().IntVarP(&priceNumOutputs, "num", "n", 1, "number of images")
	moderateCmd.Flags().Float64VarP(&modThreshold, "threshold", "t", 0, "rejection threshold in [0, 1], defaults to the server's")

	rootCmd.AddCommand(healthCmd, modelsCmd, priceCmd, moderateCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "check service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		if verbose {
			return printJSON(h)
		}

		fmt.Printf("%s: %s\n", h.Service, h.Status)
		for name, state := range h.Components {
			fmt.Printf("  %s\t%s\n", name, state)
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "list available models",
	RunE: func(cmd *cobra.Command, args []string) error {
		models, err := newClient().Models(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Name\tCost (USD)\tDescription\n")
		for _, m := range models {
			fmt.Printf("%s\t%s\t%s\n", m.Name, m.PriceUSD.StringFixed(2), m.Description)
		}
		return nil
	},
}

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "quote the price of a generation in sats",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := newClient().Price(cmd.Context(), priceModel, priceNumOutputs)
		if err != nil {
			return err
		}
		if verbose {
			return printJSON(q)
		}

		fmt.Printf("%s x%d: $%s = %d sats (BTC $%s via %s)\n", q.Model, q.UnitCount, q.TotalUSD.StringFixed(4), q.TotalSats, q.USDPerBTC.StringFixed(0), q.PriceSource)
		return nil
	},
}

var moderateCmd = &cobra.Command{
	Use:   "moderate <prompt>",
	Short: "score a prompt without generating",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var threshold *float64
		if cmd.Flags().Changed("threshold") {
			threshold = &modThreshold
		}

		res, err := newClient().Moderate(cmd.Context(), strings.Join(args, " "), threshold)
		if err != nil {
			return err
		}
		if verbose {
			return printJSON(res)
		}

		fmt.Printf("safe: %v score: %.2f threshold: %.2f\n%s\n", res.Safe, res.Score, res.Threshold, res.Reason)
		return nil
	},
}
