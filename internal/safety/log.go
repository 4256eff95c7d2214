package safety

import (
	"sync"
	"time"

	"pearl-sniper/internal/market"
)

// Log is the append-only purchase attempt log. It is the single source of
// truth for both the rolling-window rate limit and the cooldown; there is no
// separate counter that could drift from it.
type Log struct {
	mu      sync.Mutex
	records []market.AttemptRecord
}

// NewLog constructs an empty attempt log.
func NewLog() *Log {
	return &Log{}
}

// Seed replaces the log contents, used to reload the trailing window from
// persistence at startup. Records must already be in AttemptedAt order.
func (l *Log) Seed(records []market.AttemptRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]market.AttemptRecord(nil), records...)
}

// Append adds one record. The log is strictly append-ordered by AttemptedAt;
// purchase attempts serialize upstream, so out-of-order appends cannot occur
// in normal operation.
func (l *Log) Append(record market.AttemptRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
}

// CountSince counts attempts with AttemptedAt inside (now-window, now].
// Every appended record counts: rate limiting must see attempted purchases,
// not just successful ones, or a failure storm bypasses it.
func (l *Log) CountSince(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for i := len(l.records) - 1; i >= 0; i-- {
		if !l.records[i].AttemptedAt.After(cutoff) {
			break
		}
		count++
	}
	return count
}

// LastAttemptAt returns the time of the most recent attempt of any key.
func (l *Log) LastAttemptAt() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return time.Time{}, false
	}
	return l.records[len(l.records)-1].AttemptedAt, true
}

// LastAttemptAtKey returns the time of the most recent attempt for one key.
func (l *Log) LastAttemptAtKey(key market.EntryKey) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].Key == key {
			return l.records[i].AttemptedAt, true
		}
	}
	return time.Time{}, false
}

// Recent returns up to n most recent records, newest first.
func (l *Log) Recent(n int) []market.AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.records) {
		n = len(l.records)
	}
	out := make([]market.AttemptRecord, 0, n)
	for i := len(l.records) - 1; i >= len(l.records)-n; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// Len reports the number of stored records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// CountByOutcome tallies records per outcome, for operator statistics.
func (l *Log) CountByOutcome() map[market.Outcome]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[market.Outcome]int, 3)
	for _, record := range l.records {
		counts[record.Outcome]++
	}
	return counts
}
