// Package gorm opens named database connections through GORM and provides the
// transaction manager that lets chunk writers and the job repository share one transaction.
package gorm

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// DialectorFactory builds a gorm.Dialector from connection settings.
type DialectorFactory func(cfg database.Config) (gorm.Dialector, error)

var (
	dialectors   = make(map[string]DialectorFactory)
	dialectorsMu sync.RWMutex
)

// RegisterDialector registers factory for dbType. Dialect packages call it from init, so a
// blank import is enough to enable a database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorsMu.Lock()
	defer dialectorsMu.Unlock()
	if _, exists := dialectors[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectors[dbType] = factory
}

// DialectorFor returns the factory registered for dbType.
func DialectorFor(dbType string) (DialectorFactory, error) {
	dialectorsMu.RLock()
	defer dialectorsMu.RUnlock()
	factory, ok := dialectors[dbType]
	if !ok {
		known := make([]string, 0, len(dialectors))
		for k := range dialectors {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("no dialector registered for database type '%s' (registered: %v)", dbType, known)
	}
	return factory, nil
}
