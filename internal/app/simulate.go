package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pearl-sniper/internal/evaluator"
	"pearl-sniper/internal/market"
	"pearl-sniper/internal/poller"
	"pearl-sniper/internal/safety"
)

// SimulateOptions describe an offline replay of two catalog snapshots.
type SimulateOptions struct {
	BeforePath string
	AfterPath  string
	Main       int
	Sub        int
	CronPrice  int64
	ValksPrice int64
}

// Simulate replays two snapshot files through the detection pipeline and
// prints what the live loop would have done, without any network calls or
// purchase attempts.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	partition := market.PartitionID{Main: opts.Main, Sub: opts.Sub}

	before, err := loadSnapshot(opts.BeforePath, partition)
	if err != nil {
		return fmt.Errorf("load before snapshot: %w", err)
	}
	after, err := loadSnapshot(opts.AfterPath, partition)
	if err != nil {
		return fmt.Errorf("load after snapshot: %w", err)
	}

	ref := &evaluator.StaticRefSource{Snapshot: evaluator.MaterialPrices{
		CronStone: opts.CronPrice,
		ValksCry:  opts.ValksPrice,
		FetchedAt: time.Now(),
	}}
	scorer := evaluator.New(evaluator.Options{
		MinProfit: a.Config.Evaluator.MinProfit,
		MinMargin: decimal.NewFromFloat(a.Config.Evaluator.MinMargin),
	}, ref, a.Logger)

	gate := safety.NewGate(safety.GateOptions{
		PriceCeiling:  a.Config.Safety.PriceCeiling,
		MaxPerWindow:  a.Config.Safety.MaxPurchasesPerWindow,
		RateWindow:    a.Config.Safety.RateWindow,
		Cooldown:      a.Config.Safety.Cooldown,
		CooldownScope: safety.CooldownScope(a.Config.Safety.CooldownScope),
	}, safety.NewLog(), alwaysValidLease{})

	differ := poller.NewDiffer(a.Logger)
	now := time.Now()
	differ.Diff(partition, before, now)
	events := differ.Diff(partition, after, now)

	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no changes between snapshots")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Item\tName\tKind\tPrice\tQty\tNet value\tMargin%\tDecision")

	for _, event := range events {
		if !event.Kind.Actionable() {
			fmt.Fprintf(writer, "%d/%d\t%s\t%s\t-\t-\t-\t-\tignored\n",
				event.Key.ItemID, event.Key.SubID, event.Entry.Name, event.Kind)
			continue
		}

		verdict, err := scorer.Score(ctx, event.Entry)
		if err != nil {
			return err
		}

		decision := gate.Authorize(verdict, event.Entry, now)
		outcome := "would buy"
		if !decision.Allowed {
			outcome = "denied: " + string(decision.Reason)
		}

		fmt.Fprintf(writer, "%d/%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			event.Key.ItemID, event.Key.SubID, event.Entry.Name, event.Kind,
			event.Entry.UnitPrice, event.Entry.Quantity,
			verdict.NetValue, verdict.Margin.Mul(decimal.NewFromInt(100)).StringFixed(2), outcome)
	}

	return writer.Flush()
}

func loadSnapshot(path string, p market.PartitionID) ([]market.CatalogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var items []snapshotItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}

	entries := make([]market.CatalogEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, market.CatalogEntry{
			Key:       market.EntryKey{Partition: p, ItemID: item.MainKey, SubID: item.SubKey},
			Name:      item.Name,
			UnitPrice: item.PricePerOne,
			Quantity:  item.SumCount,
		})
	}
	return entries, nil
}

type snapshotItem struct {
	MainKey     int64  `json:"mainKey"`
	SubKey      int64  `json:"subKey"`
	Name        string `json:"name"`
	PricePerOne int64  `json:"pricePerOne"`
	SumCount    int64  `json:"sumCount"`
}

type alwaysValidLease struct{}

func (alwaysValidLease) Valid() bool { return true }

var _ safety.LeaseChecker = alwaysValidLease{}
