package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/ui"
)

var notebooksCmd = &cobra.Command{
	Use:   "notebooks",
	Short: "List notebooks visible to you",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		infos, err := c.ListNotebooks(cmd.Context())
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		if len(infos) == 0 {
			fmt.Println("No notebooks.")
			return nil
		}
		for _, nb := range infos {
			role := string(nb.Permissions)
			if nb.IsOwner {
				role = "OWNER"
			}
			fmt.Printf("%s  %-24s  %-10s  %s  seq=%d  entries=%d  participants=%d\n",
				nb.ID,
				ui.Truncate(nb.Name, 24),
				ui.Styled(ui.AccentStyle, role),
				ui.Styled(ui.MutedStyle, nb.Classification.String()),
				nb.CurrentSequence,
				nb.TotalEntries,
				nb.ParticipantCount,
			)
		}
		return nil
	},
}

var (
	flagCreateLevel        string
	flagCreateCompartments []string
	flagCreateThreshold    float64
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a notebook",
	Long: `Create a notebook.

The classification label defaults to PUBLIC with no compartments. The
review threshold is the friction score at which entries get flagged
for review; pass --review-threshold to override the default.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"name": args[0]}
		if flagCreateLevel != "" {
			body["classification"] = flagCreateLevel
		}
		if len(flagCreateCompartments) > 0 {
			body["compartments"] = flagCreateCompartments
		}
		if cmd.Flags().Changed("review-threshold") {
			body["review_threshold"] = flagCreateThreshold
		}

		c := newClient()
		nb, err := c.CreateNotebook(cmd.Context(), body)
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		fmt.Printf("Created notebook %s (%s, %s)\n", nb.ID, nb.Name, nb.Classification)
		return nil
	},
}

var deleteNotebookCmd = &cobra.Command{
	Use:   "delete <notebook>",
	Short: "Delete a notebook and everything in it",
	Long: `Delete a notebook and everything in it.

Owner only. Entries, jobs, grants and reviews go with the notebook;
mirrors of its entries in subscriber notebooks are tombstoned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteNotebook(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted notebook %s\n", args[0])
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&flagCreateLevel, "classification", "", "classification level (PUBLIC, INTERNAL, CONFIDENTIAL, SECRET, TOP_SECRET)")
	createCmd.Flags().StringSliceVar(&flagCreateCompartments, "compartment", nil, "compartment tag (repeatable)")
	createCmd.Flags().Float64Var(&flagCreateThreshold, "review-threshold", 0, "friction score that flags entries for review")
	rootCmd.AddCommand(notebooksCmd, createCmd, deleteNotebookCmd)
}
