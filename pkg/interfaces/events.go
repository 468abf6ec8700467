package interfaces

import (
	"context"
	"time"
)

// FleetEventType kind of fleet audit event
type FleetEventType string

const (
	FleetEventProvisioned FleetEventType = "PROVISIONED"       // bulk-create issued
	FleetEventTransition  FleetEventType = "STATUS_TRANSITION" // worker status changed
	FleetEventDeleteSent  FleetEventType = "DELETE_SENT"       // delete request issued
	FleetEventCompleted   FleetEventType = "RUN_COMPLETED"     // loop finished
)

// FleetEvent one audit record of a fleet run
type FleetEvent struct {
	RunID      string
	Session    string
	Type       FleetEventType
	WorkerName string
	Index      int
	FromStatus string
	ToStatus   string
	Message    string
	OccurredAt time.Time
}

// FleetEventRecorder appends fleet events to an audit trail.
// The reconciler never reads the trail back.
type FleetEventRecorder interface {
	RecordFleetEvents(ctx context.Context, events []*FleetEvent) error
}
