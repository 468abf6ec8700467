package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"yarrow/pkg/interfaces"
	"yarrow/pkg/store/mysql/model"
)

// FleetEventRepository handles fleet event persistence
type FleetEventRepository struct {
	ds *Datastore
}

// NewFleetEventRepository creates a new fleet event repository
func NewFleetEventRepository(ds *Datastore) *FleetEventRepository {
	return &FleetEventRepository{ds: ds}
}

// RecordFleetEvents appends events in a single batch
func (r *FleetEventRepository) RecordFleetEvents(ctx context.Context, events []*interfaces.FleetEvent) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]*model.FleetEvent, 0, len(events))
	for _, ev := range events {
		if ev == nil {
			continue
		}
		eventTime := ev.OccurredAt
		if eventTime.IsZero() {
			eventTime = time.Now()
		}
		rows = append(rows, &model.FleetEvent{
			EventID:     uuid.New().String(),
			RunID:       ev.RunID,
			Session:     ev.Session,
			EventType:   string(ev.Type),
			EventTime:   eventTime,
			WorkerName:  ev.WorkerName,
			WorkerIndex: ev.Index,
			FromStatus:  ev.FromStatus,
			ToStatus:    ev.ToStatus,
			Message:     ev.Message,
		})
	}

	if err := r.ds.DB(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("failed to record fleet events: %w", err)
	}
	return nil
}

// ListByRun retrieves the events of a run in insertion order
func (r *FleetEventRepository) ListByRun(ctx context.Context, runID string) ([]*model.FleetEvent, error) {
	var events []*model.FleetEvent
	err := r.ds.DB(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list fleet events: %w", err)
	}
	return events, nil
}

// CountByType counts the events of a run per event type
func (r *FleetEventRepository) CountByType(ctx context.Context, runID string) (map[string]int64, error) {
	var rows []struct {
		EventType string
		Count     int64
	}
	err := r.ds.DB(ctx).
		Model(&model.FleetEvent{}).
		Select("event_type, COUNT(*) AS count").
		Where("run_id = ?", runID).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count fleet events: %w", err)
	}

	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.EventType] = row.Count
	}
	return out, nil
}
