// Package fleet implements the fleet reconciliation loop: it provisions a fleet of
// self-terminating workers once, tracks every worker through the status lattice by
// polling the cloud listing, deletes workers that stopped, and decides each tick
// whether the run is complete.
package fleet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"yarrow/pkg/constants"
	"yarrow/pkg/interfaces"
	"yarrow/pkg/logger"
)

// AlivePolicy selects how a tick decides whether the run continues
type AlivePolicy string

const (
	// AliveObserved counts instances observed this tick plus workers still NEW.
	// Workers whose delete is in flight keep the loop polling until they vanish from the listing.
	AliveObserved AlivePolicy = "observed"

	// AliveUnresolved counts workers not yet DELETED or LOST
	AliveUnresolved AlivePolicy = "unresolved"
)

// Options configure one fleet run
type Options struct {
	RunID         string
	Session       string
	DesiredCount  int
	NamePrefix    string
	StartupScript string
	PollInterval  time.Duration
	AlivePolicy   AlivePolicy
	Labels        map[string]string

	// ProvisionTimeout turns NEW workers that were never listed within this period after
	// provisioning into LOST. Zero waits forever.
	ProvisionTimeout time.Duration
}

// Reconciler drives a single fleet run. Ticks run strictly one after another;
// only delete requests run in the background.
type Reconciler struct {
	client   interfaces.CloudFleetClient
	recorder interfaces.FleetEventRecorder
	opts     Options

	table         *StateTable
	provisioned   bool
	provisionedAt time.Time
	ticks         int

	onSummary func(*Summary)
	now       func() time.Time

	// in-flight delete requests
	deletes sync.WaitGroup
}

// NewReconciler creates a reconciler for one run
func NewReconciler(client interfaces.CloudFleetClient, opts Options) (*Reconciler, error) {
	if client == nil {
		return nil, fmt.Errorf("cloud fleet client is required")
	}
	if opts.DesiredCount < 1 {
		return nil, fmt.Errorf("desired count must be at least 1, got %d", opts.DesiredCount)
	}
	if opts.NamePrefix == "" {
		return nil, fmt.Errorf("name prefix is required")
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	switch opts.AlivePolicy {
	case AliveObserved, AliveUnresolved:
	case "":
		opts.AlivePolicy = AliveObserved
	default:
		return nil, fmt.Errorf("unsupported alive policy: %s", opts.AlivePolicy)
	}

	return &Reconciler{
		client: client,
		opts:   opts,
		table:  NewStateTable(opts.NamePrefix, opts.DesiredCount),
		now:    time.Now,
	}, nil
}

// SetEventRecorder attaches an audit trail for worker transitions
func (r *Reconciler) SetEventRecorder(recorder interfaces.FleetEventRecorder) {
	r.recorder = recorder
}

// SetSummaryHook registers fn to receive every tick's summary
func (r *Reconciler) SetSummaryHook(fn func(*Summary)) {
	r.onSummary = fn
}

// Table returns the worker state table
func (r *Reconciler) Table() *StateTable {
	return r.table
}

// Provisioned reports whether the bulk-create request has been issued
func (r *Reconciler) Provisioned() bool {
	return r.provisioned
}

// Ticks returns the number of ticks executed so far
func (r *Reconciler) Ticks() int {
	return r.ticks
}

// Run executes ticks until no worker is alive and returns the final summary.
// Cloud errors from listing or provisioning abort the run unchanged; already created
// instances are left in place. Before returning, Run waits for in-flight delete
// requests to be sent; their results are discarded.
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	defer r.deletes.Wait()

	logger.InfoCtx(ctx, "Starting fleet run: workers=%d, prefix=%s, poll=%v, alive=%s",
		r.opts.DesiredCount, r.opts.NamePrefix, r.opts.PollInterval, r.opts.AlivePolicy)

	for {
		summary, err := r.tick(ctx)
		if err != nil {
			return nil, err
		}

		if summary.Alive == 0 {
			logger.InfoCtx(ctx, "Fleet run completed after %d ticks: %s", r.ticks, summary)
			r.record(ctx, []*interfaces.FleetEvent{r.event(interfaces.FleetEventCompleted, nil, "", "", summary.String())})
			return summary, nil
		}

		timer := time.NewTimer(r.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return summary, ctx.Err()
		case <-timer.C:
		}
	}
}

// tick executes one reconciliation step
func (r *Reconciler) tick(ctx context.Context) (*Summary, error) {
	r.ticks++
	before := r.table.statuses()

	instances, err := r.client.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("tick %d: failed to list instances: %w", r.ticks, err)
	}

	// Apply observations
	observed := make(map[int]string, len(instances))
	observedCount := 0
	forDeletion := make(map[int]string)
	for _, inst := range instances {
		if inst == nil {
			continue
		}
		index, ok := ParseIndex(r.opts.NamePrefix, inst.Name)
		if !ok || !r.table.InRange(index) {
			continue
		}
		observed[index] = inst.Name
		observedCount++

		status := constants.WorkerStatus(inst.Status)
		if !r.provisioned {
			// adopt instances left by a previous run
			r.table.Seed(index, inst.Name, status)
		}
		rec := r.table.Get(index)
		if rec == nil || rec.Status == constants.WorkerStatusDeleted {
			continue
		}
		rec.Status = status
		if status == constants.WorkerStatusTerminated && !rec.DeletionIssued {
			forDeletion[index] = inst.Name
		}
	}

	// Fill gaps and detect disappearances
	now := r.now()
	for i := 1; i <= r.opts.DesiredCount; i++ {
		rec, created := r.table.Ensure(i, constants.WorkerStatusLost)
		if created {
			continue
		}
		if _, seen := observed[i]; seen {
			continue
		}
		switch rec.Status {
		case constants.WorkerStatusDeleted:
		case constants.WorkerStatusNew:
			if r.provisionExpired(now) {
				rec.Status = constants.WorkerStatusLost
			}
		default:
			rec.Status = constants.WorkerStatusLost
		}
	}

	var events []*interfaces.FleetEvent

	// Provision once when nothing of ours is visible
	if observedCount == 0 && !r.provisioned {
		if err := r.provision(ctx); err != nil {
			return nil, err
		}
		events = append(events, r.event(interfaces.FleetEventProvisioned, nil, "", "",
			fmt.Sprintf("count=%d pattern=%s", r.opts.DesiredCount, NamePattern(r.opts.NamePrefix, r.opts.DesiredCount))))
	}

	summary := Summarize(r.table, 0)
	summary.Alive = r.alive(summary, observedCount)

	logger.InfoCtx(ctx, "%s", summary)
	if r.onSummary != nil {
		r.onSummary(summary)
	}

	// Fire deletions for workers that stopped this tick
	indexes := make([]int, 0, len(forDeletion))
	for i := range forDeletion {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		rec := r.table.Get(i)
		name := forDeletion[i]
		r.deleteAsync(ctx, name)
		rec.DeletionIssued = true
		rec.Status = constants.WorkerStatusDeleted
		events = append(events, r.event(interfaces.FleetEventDeleteSent, rec, "", "", name))
	}

	events = append(events, r.transitions(before)...)
	r.record(ctx, events)

	return summary, nil
}

// provision issues the single bulk-create request of the run
func (r *Reconciler) provision(ctx context.Context) error {
	// provisioned flips before the call: a failed request is never repeated
	r.provisioned = true
	r.provisionedAt = r.now()

	pattern := NamePattern(r.opts.NamePrefix, r.opts.DesiredCount)
	req := &interfaces.BulkCreateRequest{
		Count:         r.opts.DesiredCount,
		MinCount:      1,
		NamePattern:   pattern,
		Names:         ExpandNames(pattern, r.opts.DesiredCount),
		StartupScript: r.opts.StartupScript,
		Labels:        r.opts.Labels,
	}

	logger.InfoCtx(ctx, "Creating %d instances with name pattern %s", req.Count, req.NamePattern)
	op, err := r.client.BulkCreate(ctx, req)
	if err != nil {
		return fmt.Errorf("tick %d: bulk create failed: %w", r.ticks, err)
	}
	if op != nil {
		logger.InfoCtx(ctx, "Bulk create operation: id=%s, done=%v, error=%s", op.ID, op.Done, op.Error)
	}

	r.table.Reset(constants.WorkerStatusNew)
	return nil
}

// deleteAsync sends a delete request without waiting for it.
// Its outcome is never fed back: the next listing is the only consistency signal.
func (r *Reconciler) deleteAsync(ctx context.Context, name string) {
	deleteCtx := context.WithoutCancel(ctx)
	r.deletes.Add(1)
	go func() {
		defer r.deletes.Done()
		op, err := r.client.DeleteInstance(deleteCtx, name)
		if err != nil {
			logger.WarnCtx(deleteCtx, "Delete request for instance %s failed: %v", name, err)
			return
		}
		if op != nil {
			logger.DebugCtx(deleteCtx, "Delete request for instance %s sent: operation=%s", name, op.ID)
		}
	}()
}

func (r *Reconciler) alive(summary *Summary, observedCount int) int {
	if r.opts.AlivePolicy == AliveUnresolved {
		return r.opts.DesiredCount -
			summary.Count(constants.WorkerStatusDeleted) -
			summary.Count(constants.WorkerStatusLost)
	}
	return observedCount + summary.Count(constants.WorkerStatusNew)
}

func (r *Reconciler) provisionExpired(now time.Time) bool {
	return r.opts.ProvisionTimeout > 0 && r.provisioned &&
		now.Sub(r.provisionedAt) > r.opts.ProvisionTimeout
}

// transitions diffs the table against the statuses captured at the start of the tick
func (r *Reconciler) transitions(before map[int]constants.WorkerStatus) []*interfaces.FleetEvent {
	if r.recorder == nil {
		return nil
	}
	var events []*interfaces.FleetEvent
	for _, rec := range r.table.Records() {
		prev := before[rec.Index]
		if prev == rec.Status {
			continue
		}
		events = append(events, r.event(interfaces.FleetEventTransition, rec, string(prev), string(rec.Status), ""))
	}
	return events
}

func (r *Reconciler) event(typ interfaces.FleetEventType, rec *WorkerRecord, from, to, msg string) *interfaces.FleetEvent {
	ev := &interfaces.FleetEvent{
		RunID:      r.opts.RunID,
		Session:    r.opts.Session,
		Type:       typ,
		FromStatus: from,
		ToStatus:   to,
		Message:    msg,
		OccurredAt: r.now(),
	}
	if rec != nil {
		ev.WorkerName = rec.Name
		ev.Index = rec.Index
	}
	return ev
}

// record appends events to the audit trail; failures never affect the run
func (r *Reconciler) record(ctx context.Context, events []*interfaces.FleetEvent) {
	if r.recorder == nil || len(events) == 0 {
		return
	}
	if err := r.recorder.RecordFleetEvents(ctx, events); err != nil {
		logger.WarnCtx(ctx, "Failed to record %d fleet events: %v", len(events), err)
	}
}

// Run provisions and reconciles a fleet of desiredCount workers until every worker is resolved
func Run(ctx context.Context, client interfaces.CloudFleetClient, desiredCount int, namePrefix, startupScript string, pollInterval time.Duration) (*Summary, error) {
	r, err := NewReconciler(client, Options{
		DesiredCount:  desiredCount,
		NamePrefix:    namePrefix,
		StartupScript: startupScript,
		PollInterval:  pollInterval,
	})
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}
