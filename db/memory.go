package db

import (
	"context"
	"sync"
	"time"

	"go-beacon/types"
)

// MemoryStore is an in-process Store with the same versioning semantics as the
// Firestore implementation. Used in tests and when running without credentials.
type MemoryStore struct {
	mu        sync.Mutex
	incidents map[string]types.Incident
	sos       map[string]types.SOSMessage
	sent      map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]types.Incident),
		sos:       make(map[string]types.SOSMessage),
		sent:      make(map[string]time.Time),
	}
}

func (s *MemoryStore) PutIncident(_ context.Context, inc *types.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.incidents[inc.ID]; ok {
		if stored.Version != inc.Version {
			return ErrStaleWrite
		}
	} else if inc.Version != 0 {
		return ErrStaleWrite
	}

	committed := cloneIncident(*inc)
	committed.Version = inc.Version + 1
	s.incidents[inc.ID] = committed
	inc.Version = committed.Version
	return nil
}

func (s *MemoryStore) GetIncident(_ context.Context, id string) (*types.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneIncident(inc)
	return &out, nil
}

func (s *MemoryStore) ListOpenIncidents(_ context.Context) ([]*types.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var open []*types.Incident
	for _, inc := range s.incidents {
		if !inc.Status.Terminal() {
			out := cloneIncident(inc)
			open = append(open, &out)
		}
	}
	return open, nil
}

func (s *MemoryStore) PutSOS(_ context.Context, msg *types.SOSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sos[msg.ID] = *msg
	return nil
}

func (s *MemoryStore) GetSOS(_ context.Context, id string) (*types.SOSMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.sos[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := msg
	return &out, nil
}

func (s *MemoryStore) ListSOSByCell(_ context.Context, cell string, since time.Time) ([]*types.SOSMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []*types.SOSMessage
	for _, msg := range s.sos {
		if msg.Geocell == cell && !msg.Timestamp.Before(since) {
			out := msg
			msgs = append(msgs, &out)
		}
	}
	return msgs, nil
}

func (s *MemoryStore) AlertSent(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sent[key]
	return ok, nil
}

func (s *MemoryStore) MarkAlertSent(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sent[key]; !ok {
		s.sent[key] = time.Now().UTC()
	}
	return nil
}

// cloneIncident copies the maps and slices so callers never share mutable
// state with the store.
func cloneIncident(inc types.Incident) types.Incident {
	out := inc
	if inc.SOSMessageIDs != nil {
		out.SOSMessageIDs = append([]string(nil), inc.SOSMessageIDs...)
	}
	if inc.ResourcesAllocated != nil {
		out.ResourcesAllocated = make(map[types.ResourceKind]int, len(inc.ResourcesAllocated))
		for k, v := range inc.ResourcesAllocated {
			out.ResourcesAllocated[k] = v
		}
	}
	if inc.Enrichment != nil {
		snap := *inc.Enrichment
		if inc.Enrichment.Results != nil {
			snap.Results = make(map[string]types.EnrichmentResult, len(inc.Enrichment.Results))
			for k, v := range inc.Enrichment.Results {
				snap.Results[k] = v
			}
		}
		out.Enrichment = &snap
	}
	return out
}
