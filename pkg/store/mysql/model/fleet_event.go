package model

import "time"

// FleetEvent MySQL model for fleet_events table
type FleetEvent struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID     string    `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex:idx_fleet_event_id_unique" json:"event_id"`
	RunID       string    `gorm:"column:run_id;type:varchar(64);not null;index:idx_run_id_event_time,priority:1" json:"run_id"`
	Session     string    `gorm:"column:session;type:varchar(255);index:idx_session" json:"session"`
	EventType   string    `gorm:"column:event_type;type:varchar(50);not null;index:idx_fleet_event_type" json:"event_type"`
	EventTime   time.Time `gorm:"column:event_time;not null;index:idx_run_id_event_time,priority:2" json:"event_time"`
	WorkerName  string    `gorm:"column:worker_name;type:varchar(255)" json:"worker_name"`
	WorkerIndex int       `gorm:"column:worker_index" json:"worker_index"`
	FromStatus  string    `gorm:"column:from_status;type:varchar(50)" json:"from_status"`
	ToStatus    string    `gorm:"column:to_status;type:varchar(50)" json:"to_status"`
	Message     string    `gorm:"column:message;type:text" json:"message"`
}

// TableName specifies the table name for FleetEvent
func (FleetEvent) TableName() string {
	return "fleet_events"
}
