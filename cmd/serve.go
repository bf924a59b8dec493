package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/alantheprice/webforge/pkg/backend"
	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	serveAddr   string
	serveOllama string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the generation backend",
	Long: `Run the generation backend. It exposes the health, unary and streaming
generation endpoints under /api/ollama and brokers every request to Ollama.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.ListenAddr = serveAddr
		}
		if serveOllama != "" {
			cfg.OllamaURL = serveOllama
		}

		gen, err := backend.NewOllamaGenerator(cfg.OllamaURL, &http.Client{Timeout: cfg.GenerationTimeout()})
		if err != nil {
			return err
		}

		fmt.Println(currentBuildInfo())
		probeCtx, cancel := context.WithTimeout(cmd.Context(), cfg.HealthTimeout())
		if v, err := gen.Version(probeCtx); err != nil {
			fmt.Printf("Warning: %s\n", utils.UserMessage(err))
		} else {
			fmt.Printf("Ollama %s at %s\n", v, gen.BaseURL())
		}
		cancel()

		ids := make([]string, 0, len(cfg.Models))
		for _, m := range cfg.Models {
			ids = append(ids, m.ID)
		}
		srv := backend.NewServer(gen, backend.Options{
			OllamaURL:    gen.BaseURL(),
			Models:       ids,
			DefaultModel: cfg.DefaultModel,
			Logger:       utils.GetLogger(),
		})
		return srv.Start(cmd.Context(), cfg.ListenAddr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveOllama, "ollama-url", "", "Ollama base URL (default from config)")
}
