package interfaces

import (
	"context"
	"time"
)

// CloudFleetClient cloud compute backend driven by the fleet reconciler.
// Backends are treated as stateless, externally synchronized services: the reconciler
// neither retries nor backs off on their errors.
type CloudFleetClient interface {
	// ListInstances returns every instance visible in the configured project/zone.
	// The result is a flat, unordered list that may contain instances the fleet does not own.
	ListInstances(ctx context.Context) ([]*InstanceView, error)

	// BulkCreate issues one request creating req.Count instances named after req.NamePattern
	BulkCreate(ctx context.Context, req *BulkCreateRequest) (*Operation, error)

	// DeleteInstance requests deletion of the named instance
	DeleteInstance(ctx context.Context, name string) (*Operation, error)
}

// InstanceView is one entry of the cloud instance listing
type InstanceView struct {
	Name   string `json:"name"`
	Status string `json:"status"` // PROVISIONING, STAGING, RUNNING, STOPPING, TERMINATED or backend specific
}

// BulkCreateRequest bulk instance creation request
type BulkCreateRequest struct {
	Count         int               `json:"count"`
	MinCount      int               `json:"minCount"`      // permits partial success
	NamePattern   string            `json:"namePattern"`   // '#' characters are digit placeholders, e.g. "runner-##"
	Names         []string          `json:"names"`         // NamePattern expanded for 1..Count
	StartupScript string            `json:"startupScript"` // attached as the "startup-script" metadata item
	Labels        map[string]string `json:"labels,omitempty"`
}

// Operation handle of an asynchronous cloud request
type Operation struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // bulkCreate, delete
	Target    string    `json:"target"`
	Done      bool      `json:"done"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}
