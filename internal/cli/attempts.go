package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pearl-sniper/internal/app"
)

var (
	attemptsLimit int
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Display recent purchase attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if attemptsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.AttemptsOptions{
			Limit: attemptsLimit,
		}

		return getApp().Attempts(cmd.Context(), opts)
	},
}

func init() {
	attemptsCmd.Flags().IntVar(&attemptsLimit, "limit", 20, "Number of attempts to display")
}
