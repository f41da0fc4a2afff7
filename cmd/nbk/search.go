package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/ui"
)

var (
	flagSearchMode   string
	flagSearchTopic  string
	flagSearchK      int
	flagSearchMinSim float64
	flagSearchLimit  int
)

var searchCmd = &cobra.Command{
	Use:   "search <notebook> <query>",
	Short: "Search entries lexically or semantically",
	Long: `Search entries lexically or semantically.

Lexical mode runs full-text search over content and topic and returns
snippets. Semantic mode embeds the query and returns the nearest
claim sets by cosine similarity, including mirrored claims from
subscriptions.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args[1:], " ")
		params := url.Values{"q": {query}}
		if flagSearchTopic != "" {
			params.Set("topic_prefix", flagSearchTopic)
		}

		c := newClient()
		switch flagSearchMode {
		case "lexical":
			if flagSearchLimit > 0 {
				params.Set("limit", fmt.Sprint(flagSearchLimit))
			}
			hits, err := c.SearchLexical(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			if flagJSON {
				return c.printJSON()
			}
			if len(hits) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, h := range hits {
				fmt.Printf("%5d  %s  %s\n", h.Entry.Sequence, h.Entry.ID, ui.Topic(h.Entry.Topic))
				if h.Snippet != "" {
					fmt.Printf("       %s\n", ui.Truncate(h.Snippet, 100))
				}
			}
			return nil

		case "semantic":
			params.Set("mode", "semantic")
			if flagSearchK > 0 {
				params.Set("k", fmt.Sprint(flagSearchK))
			}
			if cmd.Flags().Changed("min-similarity") {
				params.Set("min_similarity", fmt.Sprint(flagSearchMinSim))
			}
			neighbors, err := c.SearchSemantic(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			if flagJSON {
				return c.printJSON()
			}
			if len(neighbors) == 0 {
				fmt.Println("No neighbors.")
				return nil
			}
			for _, n := range neighbors {
				id := n.EntryID
				tag := ""
				if n.Mirrored {
					id = n.MirroredClaimID
					tag = ui.Styled(ui.MutedStyle, fmt.Sprintf("  mirrored (discount %.2f)", n.DiscountFactor))
				}
				fmt.Printf("%.4f  %s  %s%s\n", n.Similarity, id, ui.Topic(n.Topic), tag)
				if len(n.Claims) > 0 {
					fmt.Printf("        %s\n", ui.Truncate(claimsText(n.Claims), 100))
				}
			}
			return nil

		default:
			return fmt.Errorf("unknown mode %q: expected lexical or semantic", flagSearchMode)
		}
	},
}

func init() {
	searchCmd.Flags().StringVar(&flagSearchMode, "mode", "lexical", "lexical or semantic")
	searchCmd.Flags().StringVar(&flagSearchTopic, "topic", "", "topic prefix filter")
	searchCmd.Flags().IntVar(&flagSearchK, "k", 0, "semantic neighbor count")
	searchCmd.Flags().Float64Var(&flagSearchMinSim, "min-similarity", 0, "semantic similarity floor in [-1, 1]")
	searchCmd.Flags().IntVar(&flagSearchLimit, "limit", 0, "lexical result cap")
	rootCmd.AddCommand(searchCmd)
}
