package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/ui"
)

var (
	flagObserveSince int64
	flagObserveTopic string
	flagObserveLimit int
)

var observeCmd = &cobra.Command{
	Use:   "observe <notebook>",
	Short: "Read the change feed",
	Long: `Read the change feed.

Returns entries with sequence greater than --since in ascending
order. The printed current sequence is the resume cursor: pass it
back as --since on the next call to pick up where you left off.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		page, err := c.Observe(cmd.Context(), args[0], flagObserveSince, flagObserveTopic, flagObserveLimit)
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		for _, ch := range page.Changes {
			fmt.Printf("%5d  %-7s  %s  %s  %s  %s\n",
				ch.Sequence,
				ch.Operation,
				ch.EntryID,
				ch.Author.Short(),
				ui.Topic(ch.Topic),
				ch.Created.Format("2006-01-02 15:04"),
			)
		}
		fmt.Printf("current sequence %d, notebook entropy %.4f\n",
			page.CurrentSequence, page.NotebookEntropy)
		return nil
	},
}

func init() {
	observeCmd.Flags().Int64Var(&flagObserveSince, "since", 0, "resume after this sequence")
	observeCmd.Flags().StringVar(&flagObserveTopic, "topic", "", "topic prefix filter")
	observeCmd.Flags().IntVar(&flagObserveLimit, "limit", 0, "page size")
	rootCmd.AddCommand(observeCmd)
}
