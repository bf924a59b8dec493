package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alantheprice/webforge/pkg/utils"
	"github.com/spf13/cobra"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List selectable models and their availability",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		b := newBuilder(cfg, nil)
		if err := b.Init(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s; availability unknown\n", utils.UserMessage(err))
		}

		entries := b.Entries()
		if modelsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		printEntries(entries, b.Registry().Default())
		return nil
	},
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "print models as JSON")
}
