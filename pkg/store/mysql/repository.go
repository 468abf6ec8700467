package mysql

import "context"

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	Counter    *CounterRepository
	FleetEvent *FleetEventRepository
}

// NewRepository opens the database, migrates it, and creates all sub-repositories
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	ds, err := NewDatastore(dsn)
	if err != nil {
		return nil, err
	}
	if err := ds.Migrate(ctx); err != nil {
		ds.Close()
		return nil, err
	}
	return NewRepositoryFromDatastore(ds), nil
}

// NewRepositoryFromDatastore creates all sub-repositories over an existing datastore
func NewRepositoryFromDatastore(ds *Datastore) *Repository {
	return &Repository{
		ds:         ds,
		Counter:    NewCounterRepository(ds),
		FleetEvent: NewFleetEventRepository(ds),
	}
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
