// PicoChat - a chat widget for a query endpoint
// Serves the widget in a browser and as a terminal REPL.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sipeed/picochat/pkg/client"
	"github.com/sipeed/picochat/pkg/config"
	"github.com/sipeed/picochat/pkg/exchange"
	"github.com/sipeed/picochat/pkg/logger"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "picochat",
	Short: "PicoChat - a chat widget for a query endpoint",
	Long: `PicoChat sends each message to a JSON query endpoint and shows the reply,
splitting fenced code blocks out of the bot's text.

Run "picochat serve" for the browser widget or "picochat chat" for the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skipConfig"] == "true" {
			return nil
		}
		loaded, err := config.LoadConfig(config.ExpandHome(configPath))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		logger.Configure(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.JSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file (.json, .toml or .yaml)")

	rootCmd.AddCommand(serveCmd, chatCmd, askCmd, configCmd, versionCmd)
}

func defaultConfigPath() string {
	return filepath.Join("~", ".picochat", "config.json")
}

// newController builds a fresh conversation bound to the configured endpoint.
func newController() *exchange.Controller {
	q := client.New(cfg.Widget.APIURL, cfg.Widget.Headers, 0)
	return exchange.New(q, exchange.Options{
		UserName: cfg.Widget.UserName,
		Timeout:  cfg.Timeout(),
	})
}

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print version information",
	Annotations: map[string]string{"skipConfig": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "picochat %s", version)
		if gitCommit != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " (git: %s)", gitCommit)
		}
		if buildTime != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " built %s", buildTime)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
