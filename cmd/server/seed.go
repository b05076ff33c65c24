package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/warp/nation-engine/api"
)

var seedCmd = &cobra.Command{
	Use:   "seed <scenario>",
	Short: "Load a demo scenario into the database",
	Long:  "Load a demo scenario. Scenarios are additive: existing countries are kept.\n\nScenarios:\n" + scenarioList(),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.handler.Seed(cmd.Context(), args[0]); err != nil {
			return err
		}

		countries, err := a.service.Countries(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range countries {
			events, err := a.service.Milestones(cmd.Context(), c.ID)
			if err != nil {
				return err
			}
			tier := "-"
			if c.Current != nil {
				tier = c.Current.EconomicTier.String() + "/" + c.Current.PopulationTier.String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-24s %3d milestones\n", c.ID, tier, len(events))
		}
		return nil
	},
}

func scenarioList() string {
	var b strings.Builder
	for _, s := range api.Scenarios() {
		fmt.Fprintf(&b, "  %-18s %s\n", s.ID, s.Description)
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
