package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/ui"
)

var (
	flagShareTier    string
	flagShareTrusted bool
)

var shareCmd = &cobra.Command{
	Use:   "share <notebook> <author>",
	Short: "Grant an author access to a notebook",
	Long: `Grant an author access to a notebook.

Tiers, weakest to strongest: EXISTENCE, READ, READ_WRITE, ADMIN.
Trusted authors skip the review gate; untrusted READ_WRITE authors
have their entries held for review before the pipeline sees them.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		grant, err := c.Share(cmd.Context(), args[0], map[string]any{
			"author":  args[1],
			"tier":    strings.ToUpper(flagShareTier),
			"trusted": flagShareTrusted,
		})
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		trust := ""
		if grant.Trusted {
			trust = " (trusted)"
		}
		fmt.Printf("Granted %s %s on %s%s\n", grant.Author.Short(), grant.Tier, grant.NotebookID, trust)
		return nil
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare <notebook> <author>",
	Short: "Revoke an author's access",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Unshare(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Revoked access for %s\n", args[1])
		return nil
	},
}

var grantsCmd = &cobra.Command{
	Use:   "grants <notebook>",
	Short: "List access grants on a notebook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		grants, err := c.Grants(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		if len(grants) == 0 {
			fmt.Println("No explicit grants. The owner holds implicit ADMIN.")
			return nil
		}
		for _, g := range grants {
			trust := ""
			if g.Trusted {
				trust = "  trusted"
			}
			fmt.Printf("%s  %-10s%s\n", g.Author, ui.Styled(ui.AccentStyle, string(g.Tier)), trust)
		}
		return nil
	},
}

func init() {
	shareCmd.Flags().StringVar(&flagShareTier, "tier", "READ", "access tier: EXISTENCE, READ, READ_WRITE, ADMIN")
	shareCmd.Flags().BoolVar(&flagShareTrusted, "trusted", false, "skip the review gate for this author's writes")
	rootCmd.AddCommand(shareCmd, unshareCmd, grantsCmd)
}
