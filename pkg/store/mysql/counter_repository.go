package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"yarrow/pkg/store/mysql/model"
)

// CounterRepository keeps session counters in the index_counters table
type CounterRepository struct {
	ds *Datastore
}

// NewCounterRepository creates a new counter repository
func NewCounterRepository(ds *Datastore) *CounterRepository {
	return &CounterRepository{ds: ds}
}

// Next returns the next value of the session counter, starting from 0
func (r *CounterRepository) Next(ctx context.Context, session string) (int64, error) {
	var value int64
	err := r.ds.ExecTx(ctx, func(ctx context.Context) error {
		db := r.ds.DB(ctx)

		// Insert at 0 or bump the existing row; the row stays locked until commit
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"value": gorm.Expr("value + 1")}),
		}).Create(&model.SessionCounter{Session: session}).Error
		if err != nil {
			return err
		}

		var row model.SessionCounter
		if err := db.Where("session = ?", session).Take(&row).Error; err != nil {
			return err
		}
		value = row.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return value, nil
}
