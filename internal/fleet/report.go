package fleet

import (
	"fmt"
	"strings"

	"yarrow/pkg/constants"
)

// Summary per-status worker counts of one tick
type Summary struct {
	Counts map[constants.WorkerStatus]int `json:"counts"`
	Other  int                            `json:"other"` // statuses outside the lattice
	Alive  int                            `json:"alive"`
}

// Summarize counts records per status. alive is computed by the caller.
func Summarize(table *StateTable, alive int) *Summary {
	s := &Summary{
		Counts: make(map[constants.WorkerStatus]int, len(constants.WorkerStatuses)),
		Alive:  alive,
	}
	for _, st := range constants.WorkerStatuses {
		s.Counts[st] = 0
	}
	for _, rec := range table.Records() {
		if rec.Status.IsKnown() {
			s.Counts[rec.Status]++
		} else {
			s.Other++
		}
	}
	return s
}

// Count returns the number of workers in status
func (s *Summary) Count(status constants.WorkerStatus) int {
	return s.Counts[status]
}

// String renders "NEW: 3; PROVISIONING: 0; ...; LOST: 0; alive: 3"
func (s *Summary) String() string {
	var b strings.Builder
	for _, st := range constants.WorkerStatuses {
		fmt.Fprintf(&b, "%s: %d; ", st, s.Counts[st])
	}
	if s.Other > 0 {
		fmt.Fprintf(&b, "OTHER: %d; ", s.Other)
	}
	fmt.Fprintf(&b, "alive: %d", s.Alive)
	return b.String()
}
