package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/thinktank-hq/notebook/internal/ui"
	"github.com/thinktank-hq/notebook/internal/writer"
)

var (
	flagWriteType  string
	flagWriteTopic string
	flagWriteRefs  []string
)

var writeCmd = &cobra.Command{
	Use:   "write <notebook> [file]",
	Short: "Write an entry",
	Long: `Write an entry.

Content comes from the file argument, or from stdin when no file is
given. Oversized content is fragmented server-side on heading and
paragraph boundaries; the response lists the fragments.

HTML content is normalized to markdown before storage. Use --type to
declare the media type of what you are sending.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var file string
		if len(args) > 1 {
			file = args[1]
		}
		content, err := readContent(file)
		if err != nil {
			return err
		}

		c := newClient()
		res, err := c.WriteEntry(cmd.Context(), args[0], writeBody(content))
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		printWriteResult(res)
		return nil
	},
}

var reviseCmd = &cobra.Command{
	Use:   "revise <notebook> <entry> [file]",
	Short: "Revise an entry",
	Long: `Revise an entry.

The revision is a new entry pointing back at the original; the
original is never mutated. The revision runs through the claim
pipeline afresh.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var file string
		if len(args) > 2 {
			file = args[2]
		}
		content, err := readContent(file)
		if err != nil {
			return err
		}

		c := newClient()
		res, err := c.ReviseEntry(cmd.Context(), args[0], args[1], writeBody(content))
		if err != nil {
			return err
		}
		if flagJSON {
			return c.printJSON()
		}
		printWriteResult(res)
		return nil
	},
}

// readContent loads the entry body from a file, or from stdin when no
// file was given.
func readContent(file string) ([]byte, error) {
	if file != "" {
		return os.ReadFile(file)
	}
	if ui.IsTerminal() {
		fmt.Fprintln(os.Stderr, "Reading entry content from stdin; end with Ctrl-D.")
	}
	return io.ReadAll(os.Stdin)
}

func writeBody(content []byte) map[string]any {
	body := map[string]any{
		"content":      string(content),
		"content_type": flagWriteType,
	}
	if flagWriteTopic != "" {
		body["topic"] = flagWriteTopic
	}
	if len(flagWriteRefs) > 0 {
		body["references"] = flagWriteRefs
	}
	return body
}

func printWriteResult(res *writer.WriteResult) {
	e := res.Entry
	fmt.Printf("Wrote entry %s at sequence %d\n", e.ID, e.Sequence)
	for _, f := range res.Fragments {
		fmt.Printf("  fragment %d: %s (sequence %d)\n", *f.FragmentIndex, f.ID, f.Sequence)
	}
	for _, rule := range res.RulesFired {
		fmt.Printf("  cleanup: %s\n", ui.Styled(ui.MutedStyle, rule))
	}
	if res.Review != nil {
		fmt.Printf("  %s\n", ui.Styled(ui.WarnStyle, "held for review; an admin must approve it before the pipeline runs"))
	}
}

func init() {
	for _, cmd := range []*cobra.Command{writeCmd, reviseCmd} {
		cmd.Flags().StringVar(&flagWriteType, "type", "text/markdown", "media type of the content")
		cmd.Flags().StringVar(&flagWriteTopic, "topic", "", "hierarchical topic, /-delimited")
		cmd.Flags().StringSliceVar(&flagWriteRefs, "ref", nil, "referenced entry id (repeatable)")
	}
	rootCmd.AddCommand(writeCmd, reviseCmd)
}
