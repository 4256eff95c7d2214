package market

import "testing"

func TestPartitionIDString(t *testing.T) {
	p := PartitionID{Main: 55, Sub: 3}
	if got := p.String(); got != "55-3" {
		t.Fatalf("String() = %q, want 55-3", got)
	}
}

func TestEntryKeyString(t *testing.T) {
	k := EntryKey{Partition: PartitionID{Main: 55, Sub: 1}, ItemID: 40001, SubID: 2}
	if got := k.String(); got != "55-1/40001-2" {
		t.Fatalf("String() = %q", got)
	}
}

func TestEventKindActionable(t *testing.T) {
	if !EventAppeared.Actionable() || !EventQuantityIncreased.Actionable() {
		t.Fatal("appearance and restock must be actionable")
	}
	if EventDisappeared.Actionable() {
		t.Fatal("disappearance must not be actionable")
	}
}

func TestPearlPartitionsCoverAllSubs(t *testing.T) {
	if len(PearlPartitions) != 8 {
		t.Fatalf("watch set has %d partitions, want 8", len(PearlPartitions))
	}
	for i, p := range PearlPartitions {
		if p.ID.Main != 55 || p.ID.Sub != i+1 {
			t.Fatalf("partition %d = %+v", i, p)
		}
		if p.Name == "" {
			t.Fatalf("partition %d has no label", i)
		}
	}
}
