package monitor

import "github.com/errwatch/errwatch/source"

// Snapshot is one fetched row with its computed key signature.
type Snapshot struct {
	Hash string
	Row  source.Row
}

// DiffResult partitions a cycle's snapshot against the unresolved records.
type DiffResult struct {
	// New holds snapshot entries with no unresolved record.
	New []Snapshot
	// Continuing pairs existing records with their fresh row data.
	Continuing []ContinuingError
	// Resolved holds records whose signature disappeared from the fetch.
	Resolved []ErrorRecord
}

// ContinuingError is an existing record seen again this cycle.
type ContinuingError struct {
	Record ErrorRecord
	Row    source.Row
}

// BuildSnapshot computes key signatures for every fetched row. Duplicate
// signatures within one fetch collapse to a single entry, last row wins.
// A row missing a key field fails the whole cycle.
func BuildSnapshot(rows []source.Row, keyFields []string) ([]Snapshot, error) {
	index := make(map[string]int, len(rows))
	snapshot := make([]Snapshot, 0, len(rows))

	for _, row := range rows {
		hash, err := KeySignature(row, keyFields)
		if err != nil {
			return nil, err
		}
		if i, seen := index[hash]; seen {
			snapshot[i].Row = row
			continue
		}
		index[hash] = len(snapshot)
		snapshot = append(snapshot, Snapshot{Hash: hash, Row: row})
	}
	return snapshot, nil
}

// Diff compares the snapshot against the currently unresolved records.
// Pure function of its inputs: the same snapshot diffed twice against the
// post-application state yields no changes.
func Diff(existing []ErrorRecord, snapshot []Snapshot) DiffResult {
	current := make(map[string]source.Row, len(snapshot))
	for _, s := range snapshot {
		current[s.Hash] = s.Row
	}

	known := make(map[string]bool, len(existing))
	var result DiffResult

	for _, rec := range existing {
		known[rec.KeyHash] = true
		if row, stillPresent := current[rec.KeyHash]; stillPresent {
			result.Continuing = append(result.Continuing, ContinuingError{Record: rec, Row: row})
		} else {
			result.Resolved = append(result.Resolved, rec)
		}
	}

	for _, s := range snapshot {
		if !known[s.Hash] {
			result.New = append(result.New, s)
		}
	}

	return result
}
