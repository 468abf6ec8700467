package fleet

import (
	"yarrow/pkg/constants"
)

// WorkerRecord reconciler view of one worker
type WorkerRecord struct {
	Index          int                    `json:"index"`
	Name           string                 `json:"name"`
	Status         constants.WorkerStatus `json:"status"`
	DeletionIssued bool                   `json:"deletionIssued"`
}

// StateTable maps every worker index in [1, desiredCount] to its record.
// It is owned by a single reconciler and is not safe for concurrent use.
type StateTable struct {
	desiredCount int
	prefix       string
	records      map[int]*WorkerRecord
}

// NewStateTable creates an empty table; records appear lazily on observation or on the first tick
func NewStateTable(prefix string, desiredCount int) *StateTable {
	return &StateTable{
		desiredCount: desiredCount,
		prefix:       prefix,
		records:      make(map[int]*WorkerRecord, desiredCount),
	}
}

// DesiredCount returns the fleet size
func (t *StateTable) DesiredCount() int {
	return t.desiredCount
}

// InRange reports whether index belongs to the fleet
func (t *StateTable) InRange(index int) bool {
	return index >= 1 && index <= t.desiredCount
}

// Get returns the record of index, or nil when none exists yet
func (t *StateTable) Get(index int) *WorkerRecord {
	return t.records[index]
}

// Seed creates the record of index from an observation.
// It is a no-op when the record already exists.
func (t *StateTable) Seed(index int, name string, status constants.WorkerStatus) *WorkerRecord {
	if rec, ok := t.records[index]; ok {
		return rec
	}
	rec := &WorkerRecord{Index: index, Name: name, Status: status}
	t.records[index] = rec
	return rec
}

// Ensure returns the record of index, creating it with the deterministic name and status when absent
func (t *StateTable) Ensure(index int, status constants.WorkerStatus) (*WorkerRecord, bool) {
	if rec, ok := t.records[index]; ok {
		return rec, false
	}
	rec := &WorkerRecord{
		Index:  index,
		Name:   WorkerName(t.prefix, index, t.desiredCount),
		Status: status,
	}
	t.records[index] = rec
	return rec, true
}

// Reset replaces every record with a fresh one in the given status and the deterministic name.
// The deletion flag is cleared.
func (t *StateTable) Reset(status constants.WorkerStatus) {
	for i := 1; i <= t.desiredCount; i++ {
		t.records[i] = &WorkerRecord{
			Index:  i,
			Name:   WorkerName(t.prefix, i, t.desiredCount),
			Status: status,
		}
	}
}

// Complete reports whether every index has a record
func (t *StateTable) Complete() bool {
	for i := 1; i <= t.desiredCount; i++ {
		if _, ok := t.records[i]; !ok {
			return false
		}
	}
	return true
}

// Records returns the existing records ordered by index
func (t *StateTable) Records() []*WorkerRecord {
	out := make([]*WorkerRecord, 0, len(t.records))
	for i := 1; i <= t.desiredCount; i++ {
		if rec, ok := t.records[i]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Snapshot copies the current records ordered by index
func (t *StateTable) Snapshot() []WorkerRecord {
	recs := t.Records()
	out := make([]WorkerRecord, len(recs))
	for i, rec := range recs {
		out[i] = *rec
	}
	return out
}

// statuses returns index -> status for the existing records
func (t *StateTable) statuses() map[int]constants.WorkerStatus {
	out := make(map[int]constants.WorkerStatus, len(t.records))
	for i, rec := range t.records {
		out[i] = rec.Status
	}
	return out
}
