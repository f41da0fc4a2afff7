// Command nbk is the terminal client for a notebook daemon. It wraps
// the HTTP surface: writing entries, browsing and searching notebooks,
// following the change feed, reviewing submissions, and managing
// shares, subscriptions and the job queue.
//
// Connection settings are layered: built-in defaults, then the config
// file written by `nbk init`, then NBK_* environment variables, then
// flags.
//
//	nbk init
//	nbk notebooks
//	nbk write 4f1c... notes.md --topic science/physics
//	nbk browse 4f1c... --needs-review
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version and Build identify the binary; both can be overridden with
// ldflags at build time.
var (
	Version = "0.3.0"
	Build   = "dev"
)

var (
	flagConfig string
	flagServer string
	flagToken  string
	flagAuthor string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "nbk",
	Short: "Client for the notebook knowledge-exchange daemon",
	Long: `Client for the notebook knowledge-exchange daemon.

Most commands take a notebook id as their first argument. Run
"nbk notebooks" to list the notebooks visible to you, and "nbk init"
to set up the connection once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nbk version %s (%s)\n", Version, Build)
	},
}

// configPath returns the effective config file location: the --config
// flag, or config.yaml under the user config dir.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "nbk.yaml"
	}
	return filepath.Join(dir, "nbk", "config.yaml")
}

// loadConfig layers the config file, NBK_* environment variables, and
// flags. A missing config file is fine; `nbk init` creates one.
func loadConfig() error {
	viper.SetDefault("server", "http://127.0.0.1:8723")
	viper.SetDefault("token", "")
	viper.SetDefault("author", "")

	path := configPath()
	if _, err := os.Stat(path); err == nil {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	} else if flagConfig != "" {
		return fmt.Errorf("config file %s: %w", flagConfig, err)
	}

	viper.SetEnvPrefix("NBK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if flagServer != "" {
		viper.Set("server", flagServer)
	}
	if flagToken != "" {
		viper.Set("token", flagToken)
	}
	if flagAuthor != "" {
		viper.Set("author", flagAuthor)
	}
	return nil
}

// newClient builds the API client from the loaded config.
func newClient() *apiClient {
	return newAPIClient(
		viper.GetString("server"),
		viper.GetString("token"),
		viper.GetString("author"),
	)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: nbk/config.yaml under the user config dir)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "daemon base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagAuthor, "author", "", "author id for dev-identity daemons (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "print raw JSON responses")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
