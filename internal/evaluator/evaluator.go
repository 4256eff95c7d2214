package evaluator

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pearl-sniper/internal/market"
)

// ExtractionRates describe what one item of a class yields at the blacksmith.
// Extraction carries no marketplace tax.
type ExtractionRates struct {
	CronStones int64
	ValksCry   int64
}

// Class is the extraction class of a pearl item.
type Class string

const (
	ClassPremium Class = "premium"
	ClassClassic Class = "classic"
	ClassSimple  Class = "simple"
	ClassMount   Class = "mount"
)

// DefaultRates are the extraction yields per class.
var DefaultRates = map[Class]ExtractionRates{
	ClassPremium: {CronStones: 993, ValksCry: 331},
	ClassClassic: {CronStones: 801, ValksCry: 267},
	ClassSimple:  {CronStones: 543, ValksCry: 181},
	ClassMount:   {CronStones: 900, ValksCry: 300},
}

// Options tune the profitability thresholds.
type Options struct {
	MinProfit int64
	MinMargin decimal.Decimal
	Rates     map[Class]ExtractionRates
}

// Evaluator scores catalog entries against live material prices. Scoring
// itself is a pure function of the entry and a MaterialPrices snapshot; the
// reference source is consulted on its own schedule, never per entry.
type Evaluator struct {
	opts   Options
	ref    RefSource
	logger zerolog.Logger
}

// New constructs an Evaluator.
func New(opts Options, ref RefSource, logger zerolog.Logger) *Evaluator {
	if opts.MinProfit <= 0 {
		opts.MinProfit = 100_000_000
	}
	if opts.MinMargin.IsZero() {
		opts.MinMargin = decimal.NewFromFloat(0.05)
	}
	if opts.Rates == nil {
		opts.Rates = DefaultRates
	}
	return &Evaluator{
		opts:   opts,
		ref:    ref,
		logger: logger.With().Str("component", "evaluator").Logger(),
	}
}

// Score fetches the (cached) material prices and evaluates the entry.
func (e *Evaluator) Score(ctx context.Context, entry market.CatalogEntry) (market.Verdict, error) {
	prices, err := e.ref.Prices(ctx)
	if err != nil {
		return market.Verdict{Key: entry.Key}, err
	}
	return e.Evaluate(entry, prices), nil
}

// Evaluate computes the verdict for one entry given a material price
// snapshot. Pure; never caches across cycles.
func (e *Evaluator) Evaluate(entry market.CatalogEntry, prices MaterialPrices) market.Verdict {
	verdict := market.Verdict{Key: entry.Key, Margin: decimal.Zero}

	class, ok := Classify(entry)
	if !ok {
		return verdict
	}

	rates := e.opts.Rates[class]
	extraction := rates.CronStones*prices.CronStone + rates.ValksCry*prices.ValksCry
	profit := extraction - entry.UnitPrice
	verdict.NetValue = profit

	if entry.UnitPrice > 0 {
		verdict.Margin = decimal.NewFromInt(profit).Div(decimal.NewFromInt(entry.UnitPrice))
	}

	verdict.Qualifies = profit >= e.opts.MinProfit && verdict.Margin.GreaterThanOrEqual(e.opts.MinMargin)
	return verdict
}

// Classify maps an entry to its extraction class. Pets cannot be extracted
// and are never actionable.
func Classify(entry market.CatalogEntry) (Class, bool) {
	switch entry.Key.Partition.Sub {
	case 1, 2, 5:
		// Outfit sets; classic sets are labelled as such.
		if strings.Contains(strings.ToLower(entry.Name), "classic") {
			return ClassClassic, true
		}
		return ClassPremium, true
	case 3, 4:
		return ClassClassic, true
	case 6:
		return ClassSimple, true
	case 7:
		return ClassMount, true
	default:
		return "", false
	}
}
