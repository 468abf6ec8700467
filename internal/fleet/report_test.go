package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"yarrow/pkg/constants"
)

func TestSummary_String(t *testing.T) {
	table := NewStateTable("runner-", 3)
	table.Reset(constants.WorkerStatusNew)

	s := Summarize(table, 3)
	assert.Equal(t, 3, s.Count(constants.WorkerStatusNew))
	assert.Equal(t,
		"NEW: 3; PROVISIONING: 0; STAGING: 0; RUNNING: 0; STOPPING: 0; TERMINATED: 0; DELETED: 0; LOST: 0; alive: 3",
		s.String())
}

func TestSummary_OtherStatuses(t *testing.T) {
	table := NewStateTable("runner-", 3)
	table.Seed(1, "runner-1", constants.WorkerStatusRunning)
	table.Seed(2, "runner-2", constants.WorkerStatus("SUSPENDED"))
	table.Seed(3, "runner-3", constants.WorkerStatusLost)

	s := Summarize(table, 1)
	assert.Equal(t, 1, s.Count(constants.WorkerStatusRunning))
	assert.Equal(t, 1, s.Count(constants.WorkerStatusLost))
	assert.Equal(t, 1, s.Other)
	assert.Contains(t, s.String(), "LOST: 1; OTHER: 1; alive: 1")
}
