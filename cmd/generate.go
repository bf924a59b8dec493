package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/alantheprice/webforge/pkg/artifact"
	"github.com/alantheprice/webforge/pkg/events"
	"github.com/alantheprice/webforge/pkg/generation"
	"github.com/alantheprice/webforge/pkg/status"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	genModel        string
	genKind         string
	genRequirements string
	genExisting     string
	genProps        []string
	genOut          string
	genDiff         bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [description]",
	Short: "Generate a website from a description",
	Long: `Generate a website, stylesheet, React component, enhancement or fix from a
natural-language description. Progress is reported while the backend works and the
assembled HTML document is written to --out or stdout.

Examples:
  webforge generate "A landing page for a coffee shop" --out site.html
  webforge generate "Warm, earthy palette" --kind css --existing site.html
  webforge generate "Make the hero section responsive" --kind enhance --existing site.html --out site.html --diff`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kind, err := generation.ParseKind(genKind)
		if err != nil {
			return err
		}

		existing := ""
		if genExisting != "" {
			data, err := os.ReadFile(genExisting)
			if err != nil {
				return fmt.Errorf("failed to read existing code: %w", err)
			}
			existing = string(data)
		}

		bus := events.NewEventBus()
		b := newBuilder(cfg, bus)

		model := genModel
		if model == "" {
			model = b.Registry().Default()
		}
		req := generation.Request{
			Description:            strings.Join(args, " "),
			ModelName:              model,
			Kind:                   kind,
			AdditionalRequirements: genRequirements,
			ExistingContext:        existing,
			Props:                  genProps,
		}

		printerDone := make(chan struct{})
		updates := bus.Subscribe("cli")
		go printStatus(updates, term.IsTerminal(int(os.Stderr.Fd())), printerDone)
		defer func() {
			bus.Unsubscribe("cli")
			<-printerDone
		}()

		if err := b.Init(cmd.Context()); err != nil {
			return fmt.Errorf("backend unavailable: %s", b.State().Error)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.GenerationTimeout())
		defer cancel()

		session, err := b.Generate(ctx, req)
		if err != nil {
			return err
		}
		reason := session.Wait()

		state := b.State()
		switch {
		case state.Status == status.StatusError:
			return errors.New(state.Error)
		case reason == generation.ReasonCancelled:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("generation timed out after %s", cfg.GenerationTimeout())
			}
			return errors.New("generation cancelled")
		}

		return writeArtifact(b.Artifact())
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genModel, "model", "m", "", "model to generate with (default from config)")
	generateCmd.Flags().StringVarP(&genKind, "kind", "k", string(generation.KindHTML), "output kind: html, css, react, enhance or fix")
	generateCmd.Flags().StringVarP(&genRequirements, "requirements", "r", "", "additional requirements")
	generateCmd.Flags().StringVarP(&genExisting, "existing", "e", "", "file with existing HTML or code the request builds on")
	generateCmd.Flags().StringSliceVar(&genProps, "props", nil, "props of a React component (comma separated)")
	generateCmd.Flags().StringVarP(&genOut, "out", "o", "", "write the document to this file instead of stdout")
	generateCmd.Flags().BoolVar(&genDiff, "diff", false, "print a diff against the existing --out file")
}

// printStatus renders generation events on stderr until updates is closed.
// On a terminal the progress line is rewritten in place.
func printStatus(updates <-chan events.UIEvent, tty bool, done chan<- struct{}) {
	defer close(done)
	inline := false
	for ev := range updates {
		data, _ := ev.Data.(map[string]interface{})
		switch ev.Type {
		case events.EventTypeGenerationStatus:
			msg, _ := data["message"].(string)
			if tty {
				fmt.Fprintf(os.Stderr, "\r\033[K%s", msg)
				inline = true
			} else {
				fmt.Fprintln(os.Stderr, msg)
			}
		case events.EventTypeNotification:
			if inline {
				fmt.Fprintln(os.Stderr)
				inline = false
			}
			level, _ := data["level"].(string)
			msg, _ := data["message"].(string)
			fmt.Fprintf(os.Stderr, "[%s] %s\n", level, msg)
		}
	}
	if inline {
		fmt.Fprintln(os.Stderr)
	}
}

func writeArtifact(a artifact.Artifact) error {
	if genOut == "" {
		fmt.Print(a.Document)
		return nil
	}

	if genDiff {
		if prev, err := os.ReadFile(genOut); err == nil {
			old := artifact.Artifact{Document: string(prev)}
			if d := artifact.Diff(old, a); d != "" {
				added, removed := artifact.DiffStats(old, a)
				fmt.Fprintf(os.Stderr, "%s: +%d -%d\n", genOut, added, removed)
				fmt.Fprint(os.Stderr, d)
			} else {
				fmt.Fprintf(os.Stderr, "%s: unchanged\n", genOut)
			}
		}
	}

	if err := os.WriteFile(genOut, []byte(a.Document), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", genOut, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", genOut, len(a.Document))
	return nil
}
