package constants

// WorkerStatus lifecycle status of a fleet worker
type WorkerStatus string

const (
	WorkerStatusNew          WorkerStatus = "NEW"          // Bulk-create issued, not yet reported by the cloud
	WorkerStatusProvisioning WorkerStatus = "PROVISIONING" // Resources being allocated
	WorkerStatusStaging      WorkerStatus = "STAGING"      // Resources acquired, booting
	WorkerStatusRunning      WorkerStatus = "RUNNING"      // Workload running
	WorkerStatusStopping     WorkerStatus = "STOPPING"     // Shutting down
	WorkerStatusTerminated   WorkerStatus = "TERMINATED"   // Stopped, waiting for deletion
	WorkerStatusDeleted      WorkerStatus = "DELETED"      // Delete request issued
	WorkerStatusLost         WorkerStatus = "LOST"         // Disappeared from the listing before termination
)

// WorkerStatuses is the fixed reporting order of the status lattice.
var WorkerStatuses = []WorkerStatus{
	WorkerStatusNew,
	WorkerStatusProvisioning,
	WorkerStatusStaging,
	WorkerStatusRunning,
	WorkerStatusStopping,
	WorkerStatusTerminated,
	WorkerStatusDeleted,
	WorkerStatusLost,
}

func (s WorkerStatus) String() string {
	return string(s)
}

// Rank returns the position of s in the lattice, or -1 for a status the lattice does not know.
func (s WorkerStatus) Rank() int {
	for i, st := range WorkerStatuses {
		if st == s {
			return i
		}
	}
	return -1
}

// IsKnown reports whether s is one of the lattice statuses.
func (s WorkerStatus) IsKnown() bool {
	return s.Rank() >= 0
}

// IsTerminal reports whether s ends a worker's lifecycle.
func (s WorkerStatus) IsTerminal() bool {
	return s == WorkerStatusDeleted || s == WorkerStatusLost
}
