// Command notebookd runs the notebook exchange daemon: the HTTP API,
// the job queue reclaimer, the subscription poller and the pipeline
// orchestrator, all in one process over a single database.
//
// Configuration is layered: built-in defaults, then the YAML config
// file, then NOTEBOOK_* environment variables, then flags.
//
//	notebookd --config /etc/notebook/notebook.yaml
//	notebookd --db file:notebook.db --listen :8723
//	notebookd --db "nb:secret@tcp(db.internal:3306)/notebook"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version and Build identify the binary; both can be overridden with
// ldflags at build time.
var (
	Version = "0.3.0"
	Build   = "dev"
)

var (
	flagConfig   string
	flagListen   string
	flagDB       string
	flagLogLevel string
	flagLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "notebookd",
	Short: "Run the notebook exchange daemon",
	Long: `Run the notebook exchange daemon.

The daemon serves the HTTP API, reclaims timed-out pipeline jobs,
polls cross-notebook subscriptions, and reacts to completed jobs by
scheduling the next pipeline stage. It holds an exclusive lock next to
a SQLite database so two daemons never share one file; MySQL backends
carry no such restriction.

Job execution itself lives outside the daemon: point one or more
notebook-robot processes at it to drain the queues.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notebookd version %s (%s)\n", Version, Build)
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "config file path (default: notebook.yaml in the working directory)")
	rootCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides server.listen)")
	rootCmd.Flags().StringVar(&flagDB, "db", "", "database connection string (overrides connection_strings.notebook)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().BoolVar(&flagLogJSON, "log-json", false, "write logs as JSON")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
