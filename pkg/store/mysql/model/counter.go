package model

import "time"

// SessionCounter MySQL model for index_counters table
type SessionCounter struct {
	Session   string    `gorm:"column:session;type:varchar(255);primaryKey" json:"session"`
	Value     int64     `gorm:"column:value;not null;default:0" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName specifies the table name for SessionCounter
func (SessionCounter) TableName() string {
	return "index_counters"
}
