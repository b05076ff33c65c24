package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/warp/nation-engine/factory"
	"github.com/warp/nation-engine/milestone"
)

// catalog only needs config, so it doesn't open the database.
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the effective tier, milestone and achievement catalogs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		catalogs, err := loadCatalogs(cfg)
		if err != nil {
			return err
		}

		only, _ := cmd.Flags().GetString("only")
		out := cmd.OutOrStdout()
		switch only {
		case "":
			printTiers(out, catalogs)
			printMilestones(out, catalogs)
			return printAchievements(out, catalogs)
		case "tiers":
			printTiers(out, catalogs)
		case "milestones":
			printMilestones(out, catalogs)
		case "achievements":
			return printAchievements(out, catalogs)
		default:
			return fmt.Errorf("--only must be tiers, milestones or achievements, got %q", only)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.Flags().String("only", "", "Print one catalog: tiers, milestones or achievements")
}

func printTiers(w io.Writer, c *factory.Catalogs) {
	fmt.Fprintln(w, "# economic tiers")
	for _, b := range c.Classifier.EconomicBands() {
		fmt.Fprintf(w, "%-12s >= $%-8s cap %5.2f%%  damping %.2f\n",
			b.Tier, humanize.Commaf(b.MinGDPPerCapita), b.GrowthCap*100, b.Damping)
	}
	fmt.Fprintln(w, "# population tiers")
	for _, b := range c.Classifier.PopulationBands() {
		fmt.Fprintf(w, "%-12s >= %s\n", b.Tier, humanize.Comma(b.MinPopulation))
	}
	fmt.Fprintln(w)
}

func printMilestones(w io.Writer, c *factory.Catalogs) {
	fmt.Fprintln(w, "# milestones")
	for _, t := range c.Milestones.All() {
		fmt.Fprintf(w, "%-28s %-20s %-8s %s\n", t.ID, t.Kind, t.Priority(), describeThreshold(t))
	}
	fmt.Fprintln(w)
}

func describeThreshold(t milestone.Threshold) string {
	switch t.Kind {
	case milestone.KindEconomicThreshold:
		return "$" + humanize.Comma(t.Value.IntPart())
	case milestone.KindPopulationThreshold:
		return humanize.Comma(t.Value.IntPart())
	case milestone.KindTierChange:
		return string(t.Dimension) + " " + t.Tier
	case milestone.KindGrowthSpike:
		if t.Upper.Valid {
			return fmt.Sprintf("[%s, %s)", t.Value, t.Upper.Decimal)
		}
		return ">= " + t.Value.String()
	}
	return t.Label
}

func printAchievements(w io.Writer, c *factory.Catalogs) error {
	doc, err := factory.NewCatalogFactory().ToYAML(c.Achievements)
	if err != nil {
		return err
	}
	_, err = w.Write(doc)
	return err
}
