package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"daytrader/internal/domain"
)

// Compile-time interface check.
var _ JournalStore = (*ParquetJournal)(nil)

// ParquetJournal implements JournalStore using one Parquet file per UTC day.
type ParquetJournal struct {
	DataDir string

	mu sync.Mutex
}

// NewParquetJournal creates a new ParquetJournal rooted at the given data
// directory.
func NewParquetJournal(dataDir string) *ParquetJournal {
	return &ParquetJournal{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// JournalRecord is the Parquet schema for saga journal entries.
type JournalRecord struct {
	OrderID   int64  `parquet:"order_id"`
	AccountID int64  `parquet:"account_id"`
	Symbol    string `parquet:"symbol"`
	Step      string `parquet:"step"`
	Outcome   string `parquet:"outcome"`
	Amount    string `parquet:"amount"`
	Detail    string `parquet:"detail"`
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Seq       int64  `parquet:"seq"`
}

// ---------------------------------------------------------------------------
// JournalStore implementation
// ---------------------------------------------------------------------------

// AppendJournal appends records to the day files they fall in. Each file is
// rewritten with the merged contents:
//
//	<DataDir>/journal/<YYYY-MM-DD>.parquet
func (j *ParquetJournal) AppendJournal(_ context.Context, recs []domain.SagaRecord) error {
	if len(recs) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	groups := make(map[string][]JournalRecord)
	for _, r := range recs {
		day := r.Time.UTC().Format("2006-01-02")
		groups[day] = append(groups[day], JournalRecord{
			OrderID:   r.OrderID,
			AccountID: r.AccountID,
			Symbol:    r.Symbol,
			Step:      string(r.Step),
			Outcome:   string(r.Outcome),
			Amount:    r.Amount,
			Detail:    r.Detail,
			Timestamp: r.Time.UnixMilli(),
		})
	}

	for day, records := range groups {
		t, _ := time.Parse("2006-01-02", day)
		path := j.journalPath(t)

		existing, _ := readParquetFile[JournalRecord](path)
		merged := appendJournalRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing journal for %s: %w", day, err)
		}
	}
	return nil
}

// ReadJournal returns the records written on the given UTC day in append
// order. A day without a file has no records.
func (j *ParquetJournal) ReadJournal(_ context.Context, day time.Time) ([]domain.SagaRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	path := j.journalPath(day)
	records, err := readParquetFile[JournalRecord](path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading journal %s: %w", path, err)
	}

	out := make([]domain.SagaRecord, 0, len(records))
	for _, r := range records {
		out = append(out, domain.SagaRecord{
			OrderID:   r.OrderID,
			AccountID: r.AccountID,
			Symbol:    r.Symbol,
			Step:      domain.SagaStep(r.Step),
			Outcome:   domain.SagaOutcome(r.Outcome),
			Amount:    r.Amount,
			Detail:    r.Detail,
			Time:      time.UnixMilli(r.Timestamp).UTC(),
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// journalPath returns the filesystem path for a journal Parquet file.
// Layout: <dataDir>/journal/<YYYY-MM-DD>.parquet
func (j *ParquetJournal) journalPath(t time.Time) string {
	date := t.UTC().Format("2006-01-02")
	return filepath.Join(j.DataDir, "journal", date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// appendJournalRecords numbers incoming records after the existing ones and
// returns the union sorted by (timestamp, seq).
func appendJournalRecords(existing, incoming []JournalRecord) []JournalRecord {
	var next int64
	for _, r := range existing {
		if r.Seq >= next {
			next = r.Seq + 1
		}
	}
	merged := make([]JournalRecord, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	for _, r := range incoming {
		r.Seq = next
		next++
		merged = append(merged, r)
	}
	sort.SliceStable(merged, func(i, k int) bool {
		if merged[i].Timestamp != merged[k].Timestamp {
			return merged[i].Timestamp < merged[k].Timestamp
		}
		return merged[i].Seq < merged[k].Seq
	})
	return merged
}
