package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/thinktank-hq/notebook/internal/types"
	"github.com/thinktank-hq/notebook/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the daemon connection interactively",
	Long: `Set up the daemon connection interactively.

Asks for the daemon URL and your credentials, then writes them to the
nbk config file. Either a bearer token or an author id is enough: the
token is for daemons with JWT auth, the author id for daemons running
with the dev identity fallback.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	server := viper.GetString("server")
	token := viper.GetString("token")
	author := viper.GetString("author")

	if !ui.IsTerminal() {
		return fmt.Errorf("init needs an interactive terminal; set NBK_SERVER, NBK_TOKEN or NBK_AUTHOR instead")
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Daemon URL").
				Description("Base URL of the notebookd instance").
				Placeholder("http://127.0.0.1:8723").
				Value(&server).
				Validate(func(s string) error {
					u, err := url.Parse(strings.TrimSpace(s))
					if err != nil || u.Scheme == "" || u.Host == "" {
						return fmt.Errorf("enter a full URL like http://host:8723")
					}
					return nil
				}),
			huh.NewInput().
				Title("Bearer token").
				Description("JWT issued for your author identity (leave empty for dev daemons)").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewInput().
				Title("Author id").
				Description("64-char hex author id, used when no token is set").
				Value(&author).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						return nil
					}
					return types.AuthorID(strings.ToLower(s)).Validate()
				}),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("aborted")
		}
		return err
	}

	path := configPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	out := viper.New()
	out.Set("server", strings.TrimSpace(server))
	out.Set("token", strings.TrimSpace(token))
	out.Set("author", strings.ToLower(strings.TrimSpace(author)))
	if err := out.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)
}
