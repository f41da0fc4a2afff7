package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/ui"
)

var flagReviewReason string

var reviewsCmd = &cobra.Command{
	Use:   "reviews <notebook>",
	Short: "List entries waiting for review",
	Long: `List entries waiting for review.

Admin only. Untrusted authors' entries are held here until approved;
approval releases them into the claim pipeline, rejection leaves them
inert.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		recs, err := c.PendingReviews(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		if len(recs) == 0 {
			fmt.Println("Nothing pending.")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%s  by %s  submitted %s\n",
				rec.EntryID, rec.SubmittedBy.Short(), rec.Created.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <notebook> <entry>",
	Short: "Approve a pending entry",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return decideReview(cmd, args, "approve") },
}

var rejectCmd = &cobra.Command{
	Use:   "reject <notebook> <entry>",
	Short: "Reject a pending entry",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return decideReview(cmd, args, "reject") },
}

func decideReview(cmd *cobra.Command, args []string, verb string) error {
	c := newClient()
	rec, err := c.DecideReview(cmd.Context(), args[0], args[1], verb, flagReviewReason)
	if err != nil {
		return err
	}
	if flagJSON {
		return c.printJSON()
	}
	fmt.Printf("Entry %s: %s\n", rec.EntryID, ui.ReviewStatus(rec.Status))
	return nil
}

func init() {
	for _, cmd := range []*cobra.Command{approveCmd, rejectCmd} {
		cmd.Flags().StringVar(&flagReviewReason, "reason", "", "note recorded with the decision")
		reviewsCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(reviewsCmd)
}
