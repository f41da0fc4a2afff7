package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/timeparsing"
	"github.com/thinktank-hq/notebook/internal/ui"
)

var (
	flagAuditSince  string
	flagAuditAction string
	flagAuditAuthor string
	flagAuditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit <notebook>",
	Short: "Read the notebook's action log",
	Long: `Read the notebook's action log.

Admin only. --since accepts compact offsets (-2h, -1d, 3w), absolute
stamps (RFC 3339, YYYY-MM-DD) and natural language ("yesterday",
"last monday at 9am").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := url.Values{}
		if flagAuditSince != "" {
			t, err := timeparsing.ParseRelativeTime(flagAuditSince, time.Now())
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			params.Set("since", t.Format(time.RFC3339))
		}
		if flagAuditAction != "" {
			params.Set("action", flagAuditAction)
		}
		if flagAuditAuthor != "" {
			params.Set("author", flagAuditAuthor)
		}
		if flagAuditLimit > 0 {
			params.Set("limit", fmt.Sprint(flagAuditLimit))
		}

		c := newClient()
		recs, err := c.Audit(cmd.Context(), args[0], params)
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		if len(recs) == 0 {
			fmt.Println("No audit records.")
			return nil
		}
		for _, rec := range recs {
			target := ""
			if rec.TargetID != "" {
				target = "  " + rec.TargetType + "=" + rec.TargetID
			}
			detail := ""
			if len(rec.Detail) > 0 {
				if b, err := json.Marshal(rec.Detail); err == nil {
					detail = "  " + ui.Styled(ui.MutedStyle, string(b))
				}
			}
			fmt.Printf("%s  %-24s  %s%s%s\n",
				rec.Time.Format("2006-01-02 15:04:05"),
				ui.Styled(ui.AccentStyle, rec.Action),
				rec.Author.Short(),
				target,
				detail,
			)
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&flagAuditSince, "since", "", "only records after this time (-2h, 2026-08-01, \"yesterday\")")
	auditCmd.Flags().StringVar(&flagAuditAction, "action", "", "action name filter (entry.write, review.approve, ...)")
	auditCmd.Flags().StringVar(&flagAuditAuthor, "by", "", "author id filter")
	auditCmd.Flags().IntVar(&flagAuditLimit, "limit", 0, "record cap")
	rootCmd.AddCommand(auditCmd)
}
