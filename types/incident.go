package types

import "time"

type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

type IncidentType string

const (
	Earthquake IncidentType = "earthquake"
	Flood      IncidentType = "flood"
	Fire       IncidentType = "fire"
	Wildfire   IncidentType = "wildfire"
	Tsunami    IncidentType = "tsunami"
	Hurricane  IncidentType = "hurricane"
)

// ValidIncidentType reports whether s names a known incident type.
func ValidIncidentType(s string) bool {
	switch IncidentType(s) {
	case Earthquake, Flood, Fire, Wildfire, Tsunami, Hurricane:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusEnriching  Status = "enriching"
	StatusClassified Status = "classified"
	StatusResourced  Status = "resourced"
	StatusAlerted    Status = "alerted"
	StatusClosed     Status = "closed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further pipeline stage may run for s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusFailed
}

type Location struct {
	Lat float64 `firestore:"lat" json:"lat"`
	Lng float64 `firestore:"lng" json:"lng"`
}

// Incident is a confirmed or candidate disaster event under active management.
// The pipeline owns it exclusively while processing; every state transition is
// committed to the store before the next stage starts.
type Incident struct {
	ID            string       `firestore:"-" json:"id"`
	Type          IncidentType `firestore:"type" json:"type"`
	Location      Location     `firestore:"location" json:"location"`
	Severity      Severity     `firestore:"severity,omitempty" json:"severity,omitempty"`
	Status        Status       `firestore:"status" json:"status"`
	CreatedAt     time.Time    `firestore:"createdAt" json:"createdAt"`
	SOSMessageIDs []string     `firestore:"sosMessageIds" json:"sosMessageIds"`

	// Latest merged enrichment results, nil until the enriching stage commits.
	Enrichment *EnrichmentSnapshot `firestore:"enrichment,omitempty" json:"enrichment,omitempty"`

	// Granted quantities per resource kind, set by the resourced stage.
	ResourcesAllocated map[ResourceKind]int `firestore:"resourcesAllocated,omitempty" json:"resourcesAllocated,omitempty"`

	// AlertVersion increments each time alert content changes; it is the
	// dispatch idempotency key component.
	AlertVersion int `firestore:"alertVersion" json:"alertVersion"`

	// FailureReason is set when Status is failed.
	FailureReason string `firestore:"failureReason,omitempty" json:"failureReason,omitempty"`

	// Direct marks incidents created through the API rather than promoted
	// from an SOS cluster; the sweep never discards their clusters.
	Direct bool `firestore:"direct" json:"direct"`

	// Version is the optimistic-concurrency counter maintained by the store.
	Version int64 `firestore:"version" json:"version"`
}
