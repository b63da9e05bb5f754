// Package health aggregates renewal outcomes into a snapshot served over HTTP.
package health

import (
	"sync"

	"github.com/appleparan/dimension-bridge/pkg/cert_agent/model"
)

// Publisher receives the snapshot rebuilt after every renewal cycle.
type Publisher interface {
	Publish(snapshot model.HealthSnapshot)
}

type _Aggregator struct {
	mtx      sync.RWMutex
	snapshot model.HealthSnapshot
	ready    bool
}

func NewAggregator() *_Aggregator {
	return &_Aggregator{}
}

func (a *_Aggregator) Publish(snapshot model.HealthSnapshot) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.snapshot = snapshot
	a.ready = true
}

// Snapshot returns the last published snapshot. The second return is false
// until the first cycle finishes; readers keep seeing the previous snapshot
// while a cycle is in progress.
func (a *_Aggregator) Snapshot() (model.HealthSnapshot, bool) {
	a.mtx.RLock()
	defer a.mtx.RUnlock()
	return a.snapshot, a.ready
}
