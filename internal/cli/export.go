package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pearl-sniper/internal/app"
)

var (
	exportFrom    string
	exportPNGPath string
	exportLimit   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export attempt history as a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath: exportPNGPath,
			Limit:   exportLimit,
		}

		if exportFrom != "" {
			from, err := time.Parse(time.RFC3339, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "Maximum attempts to chart when --from is not given")
}
