package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/storage"
	"github.com/thinktank-hq/notebook/internal/ui"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog <notebook>",
	Short: "Show the notebook's topic digest",
	Long: `Show the notebook's topic digest.

Per topic: entry count, mean entropy, peak friction and sample
claims. Catalog-scope subscriptions contribute their source's live
digest under a Sources section.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		cat, err := c.Catalog(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}

		fmt.Printf("%s  entropy %.4f\n", ui.Header("Notebook "+cat.NotebookID), cat.Entropy)
		printTopics(cat.Topics)
		for _, src := range cat.Sources {
			fmt.Println()
			fmt.Printf("%s  (subscription %s)\n", ui.Header("Source "+src.SourceNotebook), src.SubscriptionID)
			if src.TopicFilter != "" {
				fmt.Printf("  filter: %s\n", ui.Topic(src.TopicFilter))
			}
			printTopics(src.Topics)
		}
		return nil
	},
}

func printTopics(topics []*storage.TopicSummary) {
	if len(topics) == 0 {
		fmt.Println("  no topics yet")
		return
	}
	for _, t := range topics {
		fmt.Printf("  %-32s %5d entries  entropy %.4f  friction %.4f\n",
			ui.Topic(t.Topic), t.EntryCount, t.MeanEntropy, t.MaxFriction)
		for _, claim := range t.SampleClaims {
			fmt.Printf("    - %s\n", ui.Truncate(claim, 90))
		}
	}
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
