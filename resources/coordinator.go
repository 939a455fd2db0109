package resources

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go-beacon/types"
)

// Grant is the result of one allocation request. Shortage > 0 means the pool
// could not cover the full request; the caller decides what to do with a
// partial grant, it is never hidden.
type Grant struct {
	Granted  int
	Shortage int
}

// kindState serializes allocation per resource kind; unrelated kinds never
// contend on the same lock.
type kindState struct {
	mu        sync.Mutex
	capacity  int
	allocated int
	records   map[string]*types.AllocationRecord // by incident id
}

// Coordinator maintains the allocatable resource pools and prevents
// double-booking across concurrent incident workers.
type Coordinator struct {
	kinds map[types.ResourceKind]*kindState
}

func NewCoordinator(capacities map[types.ResourceKind]int) *Coordinator {
	c := &Coordinator{kinds: make(map[types.ResourceKind]*kindState, len(capacities))}
	for kind, capacity := range capacities {
		c.kinds[kind] = &kindState{
			capacity: capacity,
			records:  make(map[string]*types.AllocationRecord),
		}
	}
	return c
}

// Allocate grants min(requested, remaining) atomically for the kind. The
// second return reports the shortage alongside the partial grant.
func (c *Coordinator) Allocate(incidentID string, kind types.ResourceKind, requested int) (Grant, error) {
	if requested < 0 {
		return Grant{}, fmt.Errorf("negative quantity %d", requested)
	}
	ks, ok := c.kinds[kind]
	if !ok {
		return Grant{}, fmt.Errorf("unknown resource kind %q", kind)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	remaining := ks.capacity - ks.allocated
	granted := requested
	if granted > remaining {
		granted = remaining
	}
	if granted > 0 {
		ks.allocated += granted
		if rec, ok := ks.records[incidentID]; ok {
			rec.Quantity += granted
		} else {
			ks.records[incidentID] = &types.AllocationRecord{
				IncidentID:  incidentID,
				Kind:        kind,
				Quantity:    granted,
				AllocatedAt: time.Now().UTC(),
			}
		}
	}
	return Grant{Granted: granted, Shortage: requested - granted}, nil
}

// Release returns everything held by the incident across all kinds. Releasing
// an incident with no outstanding allocation is a no-op.
func (c *Coordinator) Release(incidentID string) {
	for _, ks := range c.kinds {
		ks.mu.Lock()
		if rec, ok := ks.records[incidentID]; ok {
			ks.allocated -= rec.Quantity
			delete(ks.records, incidentID)
		}
		ks.mu.Unlock()
	}
}

// Snapshot reports current pool usage, sorted by kind for stable output.
func (c *Coordinator) Snapshot() []types.Resource {
	out := make([]types.Resource, 0, len(c.kinds))
	for kind, ks := range c.kinds {
		ks.mu.Lock()
		out = append(out, types.Resource{
			Kind:          kind,
			TotalCapacity: ks.capacity,
			Allocated:     ks.allocated,
		})
		ks.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Records lists outstanding allocations for observability endpoints.
func (c *Coordinator) Records() []types.AllocationRecord {
	var out []types.AllocationRecord
	for _, ks := range c.kinds {
		ks.mu.Lock()
		for _, rec := range ks.records {
			out = append(out, *rec)
		}
		ks.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IncidentID != out[j].IncidentID {
			return out[i].IncidentID < out[j].IncidentID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
