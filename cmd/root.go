package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alantheprice/webforge/pkg/configuration"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	apiURLFlag   string
	wsURLFlag    string
	transportArg string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "webforge",
	Short: "Generate websites from a description with a local LLM",
	Long: `Webforge turns a natural-language description of a website into a
previewable HTML/CSS document using models served by a local Ollama install.

Available commands:
  health   - Check the generation backend and list model availability
  models   - List selectable models
  generate - Generate a website (or CSS, a React component, an enhancement or a fix)
  serve    - Run the generation backend in front of Ollama
  preview  - Serve a live preview of generated output

Quick start:
  webforge serve &
  webforge generate "A landing page for a coffee shop" --out site.html`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersionInfo()
			return
		}
		_ = cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// Interrupts cancel the command's context so servers and generations shut down cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.webforge/config.json)")
	rootCmd.PersistentFlags().StringVar(&apiURLFlag, "api-url", "", "backend API base URL")
	rootCmd.PersistentFlags().StringVar(&wsURLFlag, "ws-url", "", "backend stream base URL")
	rootCmd.PersistentFlags().StringVar(&transportArg, "transport", "", "generation transport: stream or unary")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(previewCmd)
}

// loadConfig reads the config file, then applies environment and flag overrides.
func loadConfig() (*configuration.Config, error) {
	var (
		cfg *configuration.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = configuration.LoadFile(cfgFile)
	} else {
		cfg, err = configuration.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if apiURLFlag != "" {
		cfg.APIURL = apiURLFlag
	}
	if wsURLFlag != "" {
		cfg.StreamURL = wsURLFlag
	}
	if transportArg != "" {
		cfg.Transport = transportArg
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
