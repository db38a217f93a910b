package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/slamd-project/slamd/internal/common"
	"github.com/slamd-project/slamd/internal/interfaces"
)

// Manager owns the single BadgerDB connection the scheduling core
// persists through, handing out the narrower ConfigStore and
// CounterStore views other packages actually depend on.
type Manager struct {
	db          *BadgerDB
	configStore interfaces.ConfigStore
	counters    *CounterStore
	logger      arbor.ILogger
}

// NewManager opens BadgerDB at config.Path and wires the stores on top of it.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:          db,
		configStore: NewConfigStore(db, logger),
		counters:    NewCounterStore(db, logger),
		logger:      logger,
	}

	logger.Info().Msg("badger storage manager initialized")

	return manager, nil
}

// ConfigStore returns the Job/OptimizingJob/JobFolder persistence layer.
func (m *Manager) ConfigStore() interfaces.ConfigStore {
	return m.configStore
}

// Counters returns the named-counter store internal/idalloc persists through.
func (m *Manager) Counters() *CounterStore {
	return m.counters
}

// Close closes the underlying database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
