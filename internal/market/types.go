package market

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PartitionID identifies one independently fetched slice of the catalog,
// a (mainCategory, subCategory) pair on the remote market.
type PartitionID struct {
	Main int
	Sub  int
}

// String renders the partition as the market's "main-sub" path form.
func (p PartitionID) String() string {
	return fmt.Sprintf("%d-%d", p.Main, p.Sub)
}

// Partition couples a PartitionID with its human-readable label.
type Partition struct {
	ID   PartitionID
	Name string
}

// PearlPartitions is the default watch set: the eight pearl categories.
var PearlPartitions = []Partition{
	{ID: PartitionID{Main: 55, Sub: 1}, Name: "Male Outfits (Set)"},
	{ID: PartitionID{Main: 55, Sub: 2}, Name: "Female Outfits (Set)"},
	{ID: PartitionID{Main: 55, Sub: 3}, Name: "Male Outfits (Single)"},
	{ID: PartitionID{Main: 55, Sub: 4}, Name: "Female Outfits (Single)"},
	{ID: PartitionID{Main: 55, Sub: 5}, Name: "Class Outfits (Set)"},
	{ID: PartitionID{Main: 55, Sub: 6}, Name: "Functional"},
	{ID: PartitionID{Main: 55, Sub: 7}, Name: "Mounts"},
	{ID: PartitionID{Main: 55, Sub: 8}, Name: "Pets"},
}

// EntryKey is the identity of a catalog entry. Item ids are reused across
// partitions, so the partition is part of the key.
type EntryKey struct {
	Partition PartitionID
	ItemID    int64
	SubID     int64
}

func (k EntryKey) String() string {
	return fmt.Sprintf("%s/%d-%d", k.Partition, k.ItemID, k.SubID)
}

// CatalogEntry is one listing observed in a partition snapshot.
type CatalogEntry struct {
	Key       EntryKey
	Name      string
	UnitPrice int64
	Quantity  int64
	Raw       json.RawMessage
}

// EventKind classifies a transition between two consecutive snapshots.
type EventKind string

const (
	EventAppeared          EventKind = "appeared"
	EventQuantityIncreased EventKind = "quantity_increased"
	EventDisappeared       EventKind = "disappeared"
)

// Actionable reports whether the event kind can lead to a purchase.
// A disappearance is accounting signal only.
func (k EventKind) Actionable() bool {
	return k == EventAppeared || k == EventQuantityIncreased
}

// ChangeEvent records one key's transition between two consecutive snapshots
// of the same partition. Immutable once created.
type ChangeEvent struct {
	Key          EntryKey
	Kind         EventKind
	PrevQuantity int64
	Quantity     int64
	Entry        CatalogEntry
	ObservedAt   time.Time
}

// Verdict is the profitability evaluation of a single catalog entry.
// Recomputed at evaluation time, never cached across cycles.
type Verdict struct {
	Key       EntryKey
	NetValue  int64
	Margin    decimal.Decimal
	Qualifies bool
}

// Outcome is the interpreted result of one privileged purchase call.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRejected Outcome = "rejected"
	OutcomeError    Outcome = "error"
)

// AttemptRecord is one entry of the append-only purchase attempt log. A record
// exists for every dispatched attempt regardless of outcome.
type AttemptRecord struct {
	Key           EntryKey
	Name          string
	AttemptedAt   time.Time
	UnitPrice     int64
	Quantity      int64
	Outcome       Outcome
	RemoteCode    int
	RemoteMessage string

	// DryRun records never enter the safety log or the database; they must
	// not count against rate limits now or after a restart.
	DryRun bool
}
