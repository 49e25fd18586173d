package cache

import (
	"fmt"

	"github.com/secgw/messagelog/pkg/records"
	"github.com/secgw/messagelog/pkg/taskqueue"
)

// ContainerPath returns the admin API path serving the container of a
// record. Cache keys are built from it.
func ContainerPath(recordID int64) string {
	return fmt.Sprintf("/api/messagelog/v1/records/%d/asic", recordID)
}

// Invalidator drops cached containers whose content changed because their
// records were timestamped. Register it as a queue observer.
type Invalidator struct {
	taskqueue.NopObserver

	cache *LRUCache
}

// NewInvalidator returns nil when c is nil.
func NewInvalidator(c *LRUCache) *Invalidator {
	if c == nil {
		return nil
	}
	return &Invalidator{cache: c}
}

// BatchTimestamped invalidates every record of the batch.
func (i *Invalidator) BatchTimestamped(ids []int64, _ *records.TimestampRecord) {
	for _, id := range ids {
		i.cache.Invalidate(ContainerPath(id))
	}
}

// RecordsDeleted drops everything once the cleaner removed records, since
// deleted ids are not reported individually.
func (i *Invalidator) RecordsDeleted(n int64) {
	if n > 0 {
		i.cache.InvalidateAll()
	}
}
