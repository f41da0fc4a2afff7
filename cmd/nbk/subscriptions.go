package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/ui"
)

var (
	flagSubScope    string
	flagSubTopic    string
	flagSubDiscount float64
	flagSubInterval int
)

var subsCmd = &cobra.Command{
	Use:     "subs <notebook>",
	Aliases: []string{"subscriptions"},
	Short:   "List and manage subscriptions to other notebooks",
	Long: `List and manage subscriptions to other notebooks.

A subscription mirrors a source notebook's approved claims into the
subscriber, where they join semantic search and claim comparison with
friction scaled by the discount factor.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		subs, err := c.ListSubscriptions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		if len(subs) == 0 {
			fmt.Println("No subscriptions.")
			return nil
		}
		for _, sub := range subs {
			printSubscription(sub)
		}
		return nil
	},
}

func printSubscription(sub *types.Subscription) {
	status := string(sub.SyncStatus)
	switch sub.SyncStatus {
	case types.SyncActive:
		status = ui.Styled(ui.GoodStyle, status)
	case types.SyncError:
		status = ui.Styled(ui.BadStyle, status)
	default:
		status = ui.Styled(ui.MutedStyle, status)
	}
	topic := ""
	if sub.TopicFilter != "" {
		topic = "  topic=" + sub.TopicFilter
	}
	fmt.Printf("%s  from %s  %-8s  %s  discount=%.2f  watermark=%d  mirrored=%d%s\n",
		sub.ID, sub.SourceNotebook, sub.Scope, status,
		sub.DiscountFactor, sub.Watermark, sub.MirroredCount, topic)
	if sub.SyncError != "" {
		fmt.Printf("  %s\n", ui.Styled(ui.BadStyle, sub.SyncError))
	}
}

var subsAddCmd = &cobra.Command{
	Use:   "add <notebook> <source-notebook>",
	Short: "Subscribe a notebook to another notebook",
	Long: `Subscribe a notebook to another notebook.

Requires ADMIN on the subscriber and READ on the source, and the
subscriber's classification must dominate the source's. Subscriptions
that would close a cycle are refused.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"source_notebook": args[1]}
		if flagSubScope != "" {
			body["scope"] = flagSubScope
		}
		if flagSubTopic != "" {
			body["topic_filter"] = flagSubTopic
		}
		if cmd.Flags().Changed("discount") {
			body["discount_factor"] = flagSubDiscount
		}
		if cmd.Flags().Changed("poll-interval") {
			body["poll_interval_seconds"] = flagSubInterval
		}

		c := newClient()
		sub, err := c.CreateSubscription(cmd.Context(), args[0], body)
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		fmt.Printf("Subscribed: %s mirrors %s (%s scope, discount %.2f)\n",
			sub.SubscriberNotebook, sub.SourceNotebook, sub.Scope, sub.DiscountFactor)
		return nil
	},
}

var subsRmCmd = &cobra.Command{
	Use:   "rm <notebook> <subscription>",
	Short: "Remove a subscription and tombstone its mirrors",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteSubscription(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Subscription removed.")
		return nil
	},
}

var subsPauseCmd = &cobra.Command{
	Use:   "pause <notebook> <subscription>",
	Short: "Pause syncing without losing the watermark",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().SetSubscriptionPaused(cmd.Context(), args[0], args[1], true); err != nil {
			return err
		}
		fmt.Println("Subscription paused.")
		return nil
	},
}

var subsResumeCmd = &cobra.Command{
	Use:   "resume <notebook> <subscription>",
	Short: "Resume a paused or errored subscription",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().SetSubscriptionPaused(cmd.Context(), args[0], args[1], false); err != nil {
			return err
		}
		fmt.Println("Subscription resumed.")
		return nil
	},
}

func init() {
	subsAddCmd.Flags().StringVar(&flagSubScope, "scope", "", "catalog, claims or entries (default claims)")
	subsAddCmd.Flags().StringVar(&flagSubTopic, "topic", "", "only mirror entries under this topic prefix")
	subsAddCmd.Flags().Float64Var(&flagSubDiscount, "discount", 0, "friction discount factor in (0, 1]")
	subsAddCmd.Flags().IntVar(&flagSubInterval, "poll-interval", 0, "seconds between source polls (min 10)")
	subsCmd.AddCommand(subsAddCmd, subsRmCmd, subsPauseCmd, subsResumeCmd)
	rootCmd.AddCommand(subsCmd)
}
