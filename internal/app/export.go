package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pearl-sniper/internal/market"
)

// Export renders attempt history as a PNG chart: per-attempt unit price on
// the primary axis, cumulative spend on the secondary one.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.PNGPath == "" {
		return errors.New("--png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var records []market.AttemptRecord
	if opts.From != nil {
		records, err = store.ListAttemptsSince(ctx, opts.From.UTC())
	} else {
		limit := opts.Limit
		if limit <= 0 {
			limit = 500
		}
		records, err = store.ListRecentAttempts(ctx, limit)
		reverse(records)
	}
	if err != nil {
		return err
	}
	if len(records) < 2 {
		a.Logger.Info().Int("attempts", len(records)).Msg("not enough attempts to chart")
		return nil
	}

	a.Logger.Info().Int("attempts", len(records)).Msg("exporting attempt history")
	return writeAttemptsPNG(opts.PNGPath, records)
}

func reverse(records []market.AttemptRecord) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

func writeAttemptsPNG(path string, records []market.AttemptRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	prices := make([]float64, len(records))
	spend := make([]float64, len(records))

	var total float64
	for i, record := range records {
		x[i] = record.AttemptedAt
		prices[i] = float64(record.UnitPrice)
		if record.Outcome == market.OutcomeSuccess {
			total += float64(record.UnitPrice) * float64(record.Quantity)
		}
		spend[i] = total
	}

	silverFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Unit price (silver)",
			ValueFormatter: silverFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Cumulative spend (silver)",
			ValueFormatter: silverFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Unit price",
				XValues: x,
				YValues: prices,
			},
			chart.TimeSeries{
				Name:    "Cumulative spend",
				XValues: x,
				YValues: spend,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
