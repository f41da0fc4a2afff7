package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/ui"
)

var (
	flagBrowseTopic       string
	flagBrowseClaims      string
	flagBrowseIntegration string
	flagBrowseAuthor      string
	flagBrowseQuery       string
	flagBrowseSeqMin      int64
	flagBrowseSeqMax      int64
	flagBrowseFriction    float64
	flagBrowseNeedsReview bool
	flagBrowseFragmentOf  string
	flagBrowseLimit       int
	flagBrowseOffset      int
	flagBrowseDesc        bool
)

var browseCmd = &cobra.Command{
	Use:   "browse <notebook>",
	Short: "List entries with filters",
	Long: `List entries with filters.

Filters combine with AND. Results come back in ascending sequence
order unless --desc is given. Pending-review entries appear only to
their submitter and to admins.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := url.Values{}
		set := func(key, val string) {
			if val != "" {
				params.Set(key, val)
			}
		}
		set("topic_prefix", flagBrowseTopic)
		set("claims_status", flagBrowseClaims)
		set("integration_status", flagBrowseIntegration)
		set("author", flagBrowseAuthor)
		set("query", flagBrowseQuery)
		set("fragment_of", flagBrowseFragmentOf)
		if cmd.Flags().Changed("sequence-min") {
			params.Set("sequence_min", fmt.Sprint(flagBrowseSeqMin))
		}
		if cmd.Flags().Changed("sequence-max") {
			params.Set("sequence_max", fmt.Sprint(flagBrowseSeqMax))
		}
		if cmd.Flags().Changed("friction-above") {
			params.Set("has_friction_above", fmt.Sprint(flagBrowseFriction))
		}
		if cmd.Flags().Changed("needs-review") {
			params.Set("needs_review", fmt.Sprint(flagBrowseNeedsReview))
		}
		if flagBrowseLimit > 0 {
			params.Set("limit", fmt.Sprint(flagBrowseLimit))
		}
		if flagBrowseOffset > 0 {
			params.Set("offset", fmt.Sprint(flagBrowseOffset))
		}
		if flagBrowseDesc {
			params.Set("order", "desc")
		}

		c := newClient()
		entries, err := c.Browse(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		if len(entries) == 0 {
			fmt.Println("No entries match.")
			return nil
		}
		for _, e := range entries {
			printEntryLine(e)
		}
		return nil
	},
}

// printEntryLine renders one entry as a single browse row.
func printEntryLine(e *types.Entry) {
	summary := claimsText(e.Claims)
	if summary == "" {
		summary = string(e.Content)
	}
	friction := ""
	if e.MaxFriction != nil {
		friction = fmt.Sprintf("  friction=%.2f", *e.MaxFriction)
		if e.NeedsReview {
			friction = ui.Styled(ui.BadStyle, friction)
		}
	}
	fmt.Printf("%5d  %s  %-9s %-10s  %s%s  %s\n",
		e.Sequence,
		e.ID,
		ui.ClaimsStatus(e.ClaimsStatus),
		ui.IntegrationStatus(e.IntegrationStatus),
		ui.Topic(e.Topic),
		friction,
		ui.Truncate(summary, 48),
	)
}

func init() {
	browseCmd.Flags().StringVar(&flagBrowseTopic, "topic", "", "topic prefix filter")
	browseCmd.Flags().StringVar(&flagBrowseClaims, "claims-status", "", "pending, distilled or verified")
	browseCmd.Flags().StringVar(&flagBrowseIntegration, "integration", "", "probation, integrated or orphan")
	browseCmd.Flags().StringVar(&flagBrowseAuthor, "by", "", "author id filter")
	browseCmd.Flags().StringVar(&flagBrowseQuery, "query", "", "free-text filter")
	browseCmd.Flags().Int64Var(&flagBrowseSeqMin, "sequence-min", 0, "minimum sequence")
	browseCmd.Flags().Int64Var(&flagBrowseSeqMax, "sequence-max", 0, "maximum sequence")
	browseCmd.Flags().Float64Var(&flagBrowseFriction, "friction-above", 0, "only entries with max friction above this")
	browseCmd.Flags().BoolVar(&flagBrowseNeedsReview, "needs-review", false, "only entries flagged for review")
	browseCmd.Flags().StringVar(&flagBrowseFragmentOf, "fragment-of", "", "fragments of this parent entry")
	browseCmd.Flags().IntVar(&flagBrowseLimit, "limit", 0, "page size (max 500)")
	browseCmd.Flags().IntVar(&flagBrowseOffset, "offset", 0, "page offset")
	browseCmd.Flags().BoolVar(&flagBrowseDesc, "desc", false, "descending sequence order")
	rootCmd.AddCommand(browseCmd)
}
