package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/ui"
)

var flagShowRaw bool

var showCmd = &cobra.Command{
	Use:   "show <notebook> <entry>",
	Short: "Show an entry with its claims and comparisons",
	Long: `Show an entry with its claims and comparisons.

Markdown content is rendered for the terminal; pass --raw to print
the stored bytes unchanged. The revision chain and referenced entries
are listed below the content.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		res, err := c.ReadEntry(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		printEntry(res)
		return nil
	},
}

func printEntry(res *entryRead) {
	e := res.Entry

	fmt.Printf("%s  sequence %d\n", ui.Header("Entry "+e.ID), e.Sequence)
	fmt.Printf("author: %s   topic: %s   created: %s\n",
		e.Author.Short(), ui.Topic(e.Topic), e.Created.Format("2006-01-02 15:04"))
	fmt.Printf("claims: %s   integration: %s   review: %s\n",
		ui.ClaimsStatus(e.ClaimsStatus),
		ui.IntegrationStatus(e.IntegrationStatus),
		ui.ReviewStatus(e.ReviewStatus))
	if e.MaxFriction != nil {
		flag := ""
		if e.NeedsReview {
			flag = "  " + ui.Styled(ui.BadStyle, "needs review")
		}
		fmt.Printf("max friction: %.4f%s\n", *e.MaxFriction, flag)
	}
	if e.RevisionOf != nil {
		fmt.Printf("revision of: %s\n", *e.RevisionOf)
	}
	if e.IsFragment() {
		fmt.Printf("fragment %d of %s\n", *e.FragmentIndex, *e.FragmentOf)
	}

	fmt.Println()
	content := string(e.Content)
	if !flagShowRaw && isMarkdown(e.ContentType) {
		content = ui.RenderMarkdown(content)
	}
	fmt.Println(content)

	if len(e.Claims) > 0 {
		fmt.Println(ui.Header("Claims"))
		for _, cl := range e.Claims {
			fmt.Printf("  %.2f  %s\n", cl.Confidence, cl.Text)
		}
	}

	if len(e.Comparisons) > 0 {
		fmt.Println(ui.Header("Comparisons"))
		for _, cmp := range e.Comparisons {
			peer := cmp.ComparedAgainst
			if cmp.Mirrored {
				peer += ui.Styled(ui.MutedStyle, fmt.Sprintf(" (mirrored, discount %.2f)", cmp.DiscountFactor))
			}
			fmt.Printf("  vs %s: entropy %.4f, friction %.4f\n", peer, cmp.Entropy, cmp.Friction)
			for _, ct := range cmp.Contradictions {
				fmt.Printf("    %s %q vs %q (severity %.2f)\n",
					ui.Styled(ui.BadStyle, "✗"), ct.ClaimA, ct.ClaimB, ct.Severity)
			}
		}
	}

	if len(res.Revisions) > 0 {
		fmt.Println(ui.Header("Revisions"))
		for _, r := range res.Revisions {
			fmt.Printf("  %s  sequence %d  %s\n", r.ID, r.Sequence, r.Created.Format("2006-01-02 15:04"))
		}
	}
	if len(res.References) > 0 {
		fmt.Println(ui.Header("References"))
		for _, r := range res.References {
			fmt.Printf("  %s  %s\n", r.ID, ui.Truncate(string(r.Content), 60))
		}
	}
}

func isMarkdown(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "markdown") || ct == "text/plain" || ct == ""
}

// claimsText joins claim texts for one-line summaries.
func claimsText(claims []types.Claim) string {
	texts := make([]string, len(claims))
	for i, c := range claims {
		texts[i] = c.Text
	}
	return strings.Join(texts, "; ")
}

func init() {
	showCmd.Flags().BoolVar(&flagShowRaw, "raw", false, "print stored content without rendering")
	rootCmd.AddCommand(showCmd)
}
