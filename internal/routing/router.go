// Package routing decides, per request, whether to target the primary store
// or a replica. A short-lived per-tenant mutation marker keeps reads on the
// primary for a bounded window after a write, which is what turns replica lag
// into bounded staleness for the tenant that just wrote.
package routing

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"

	"github.com/bankline-io/bankline-worker/internal/database"
)

// Router routes reads and writes between the primary and the replica. The
// marker cache is an optimization for replica usage, not a correctness
// mechanism: writes always hit the primary regardless of cache state, so an
// evicted marker only costs an unnecessary primary read, never a stale one.
type Router struct {
	handles *database.Handles
	markers *expirable.LRU[string, struct{}]
	window  time.Duration
}

// New creates a router. window is how long reads stick to the primary after a
// write; size bounds the number of tenants tracked at once.
func New(handles *database.Handles, window time.Duration, size int) *Router {
	return &Router{
		handles: handles,
		markers: expirable.NewLRU[string, struct{}](size, nil, window),
		window:  window,
	}
}

// Write returns the handle for a tenant write and refreshes the tenant's
// mutation marker. Writes always target the primary.
func (r *Router) Write(tenantID string) *gorm.DB {
	r.MarkWrite(tenantID)
	return r.handles.Primary
}

// MarkWrite refreshes the mutation marker for a tenant without returning a
// handle. Called by the persistence gateway after upserts.
func (r *Router) MarkWrite(tenantID string) {
	r.markers.Add(tenantID, struct{}{})
}

// Read returns the handle for a tenant read: the primary while the tenant's
// mutation marker is fresh, otherwise the replica when one is configured.
func (r *Router) Read(tenantID string) *gorm.DB {
	if _, recent := r.markers.Get(tenantID); recent {
		return r.handles.Primary
	}
	if r.handles.Replica != nil {
		return r.handles.Replica
	}
	return r.handles.Primary
}

// Primary returns the primary handle directly, for orchestration internals
// that must never observe replica lag (job claiming, token persistence).
func (r *Router) Primary() *gorm.DB {
	return r.handles.Primary
}

// RecentlyWrote reports whether the tenant currently has a fresh marker
func (r *Router) RecentlyWrote(tenantID string) bool {
	_, ok := r.markers.Get(tenantID)
	return ok
}
