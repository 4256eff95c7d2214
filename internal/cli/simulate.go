package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pearl-sniper/internal/app"
)

var (
	simulateBefore     string
	simulateAfter      string
	simulateMain       int
	simulateSub        int
	simulateCronPrice  int64
	simulateValksPrice int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay two snapshot files through the detection pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBefore == "" || simulateAfter == "" {
			return fmt.Errorf("--before and --after are required")
		}

		opts := app.SimulateOptions{
			BeforePath: simulateBefore,
			AfterPath:  simulateAfter,
			Main:       simulateMain,
			Sub:        simulateSub,
			CronPrice:  simulateCronPrice,
			ValksPrice: simulateValksPrice,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateBefore, "before", "", "Path to the earlier snapshot (JSON array of listings)")
	simulateCmd.Flags().StringVar(&simulateAfter, "after", "", "Path to the later snapshot (JSON array of listings)")
	simulateCmd.Flags().IntVar(&simulateMain, "main", 55, "Main category of the snapshots")
	simulateCmd.Flags().IntVar(&simulateSub, "sub", 1, "Sub category of the snapshots")
	simulateCmd.Flags().Int64Var(&simulateCronPrice, "cron-price", 3_000_000, "Cron stone unit price to assume")
	simulateCmd.Flags().Int64Var(&simulateValksPrice, "valks-price", 9_000_000, "Valks' cry unit price to assume")
}
