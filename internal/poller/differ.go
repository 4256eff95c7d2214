package poller

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pearl-sniper/internal/market"
)

// partitionState holds the last stored snapshot of one partition. Replaced
// wholesale after each diff, never mutated in place.
type partitionState struct {
	entries       map[market.EntryKey]market.CatalogEntry
	lastFetchedAt time.Time
}

// Differ turns repeated full partition snapshots into discrete change events.
// It owns all prior-state; callers never see or mutate stored snapshots.
type Differ struct {
	mu     sync.Mutex
	states map[market.PartitionID]*partitionState
	logger zerolog.Logger
}

// NewDiffer constructs a Differ with no prior state.
func NewDiffer(logger zerolog.Logger) *Differ {
	return &Differ{
		states: make(map[market.PartitionID]*partitionState),
		logger: logger.With().Str("component", "differ").Logger(),
	}
}

// Diff compares a fresh snapshot against the stored state for the partition
// and returns the resulting change events. The first observation of a
// partition stores the snapshot and emits nothing, so a cold start never
// floods appeared-events for the whole catalog. The stored state is replaced
// only after the diff completes; callers must not invoke Diff for a partition
// whose fetch failed, which leaves its state untouched.
func (d *Differ) Diff(p market.PartitionID, snapshot []market.CatalogEntry, observedAt time.Time) []market.ChangeEvent {
	next := make(map[market.EntryKey]market.CatalogEntry, len(snapshot))
	for _, entry := range snapshot {
		next[entry.Key] = entry
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, seen := d.states[p]
	d.states[p] = &partitionState{entries: next, lastFetchedAt: observedAt}

	if !seen {
		d.logger.Info().Str("partition", p.String()).Int("entries", len(next)).Msg("partition state initialised")
		return nil
	}

	events := make([]market.ChangeEvent, 0)

	for key, entry := range next {
		old, ok := prev.entries[key]
		if !ok {
			events = append(events, market.ChangeEvent{
				Key:        key,
				Kind:       market.EventAppeared,
				Quantity:   entry.Quantity,
				Entry:      entry,
				ObservedAt: observedAt,
			})
			continue
		}
		if entry.Quantity > old.Quantity {
			events = append(events, market.ChangeEvent{
				Key:          key,
				Kind:         market.EventQuantityIncreased,
				PrevQuantity: old.Quantity,
				Quantity:     entry.Quantity,
				Entry:        entry,
				ObservedAt:   observedAt,
			})
		}
		// Equal or decreased quantity is not actionable; a decrease may just
		// be a sale completing.
	}

	for key, old := range prev.entries {
		if _, ok := next[key]; !ok {
			events = append(events, market.ChangeEvent{
				Key:          key,
				Kind:         market.EventDisappeared,
				PrevQuantity: old.Quantity,
				Entry:        old,
				ObservedAt:   observedAt,
			})
		}
	}

	return events
}

// Seen reports whether the partition has prior state.
func (d *Differ) Seen(p market.PartitionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.states[p]
	return ok
}

// Current returns a copy of the stored entry for a key, if present.
func (d *Differ) Current(key market.EntryKey) (market.CatalogEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.states[key.Partition]
	if !ok {
		return market.CatalogEntry{}, false
	}
	entry, ok := state.entries[key]
	return entry, ok
}
