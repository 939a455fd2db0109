package db

import (
	"context"
	"errors"
	"time"

	"go-beacon/types"
)

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = errors.New("record not found")

	// ErrStaleWrite is returned when a put carries a version that no longer
	// matches the stored record; the caller should reload and retry.
	ErrStaleWrite = errors.New("stale write: version conflict")
)

// Store is the persistence contract the pipeline commits through. Incident
// writes use optimistic versioning: PutIncident succeeds only when the
// incident's Version matches the stored one and bumps it on commit.
type Store interface {
	PutIncident(ctx context.Context, inc *types.Incident) error
	GetIncident(ctx context.Context, id string) (*types.Incident, error)
	ListOpenIncidents(ctx context.Context) ([]*types.Incident, error)

	PutSOS(ctx context.Context, msg *types.SOSMessage) error
	GetSOS(ctx context.Context, id string) (*types.SOSMessage, error)
	// ListSOSByCell is the geocell+time secondary index used by the
	// deduplicator to rebuild cluster state.
	ListSOSByCell(ctx context.Context, cell string, since time.Time) ([]*types.SOSMessage, error)

	// AlertSent reports whether the dispatch idempotency key was recorded.
	AlertSent(ctx context.Context, key string) (bool, error)
	// MarkAlertSent records the key; recording an existing key is a no-op.
	MarkAlertSent(ctx context.Context, key string) error
}
