package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/preview"
	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/spf13/cobra"
)

var (
	previewAddr  string
	previewModel string
)

var previewCmd = &cobra.Command{
	Use:   "preview [description]",
	Short: "Serve a live preview of generated output",
	Long: `Start the live preview server. Open it in a browser to watch status
changes and the generated document update as they happen. When a description
is given a generation starts right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if previewAddr != "" {
			cfg.PreviewAddr = previewAddr
		}

		bus := events.NewEventBus()
		b := newBuilder(cfg, bus)
		srv := preview.NewServer(b, bus)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start(cmd.Context(), cfg.PreviewAddr)
		}()

		if err := b.Init(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", utils.UserMessage(err))
		}

		if len(args) > 0 {
			model := previewModel
			if model == "" {
				model = b.Registry().Default()
			}
			_, err := b.Generate(cmd.Context(), generation.Request{
				Description: strings.Join(args, " "),
				ModelName:   model,
				Kind:        generation.KindHTML,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Generation not started: %s\n", utils.UserMessage(err))
			}
		}

		return <-errCh
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewAddr, "addr", "", "preview listen address (default from config)")
	previewCmd.Flags().StringVarP(&previewModel, "model", "m", "", "model for the initial generation")
}
