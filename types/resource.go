package types

import "time"

type ResourceKind string

const (
	ResourceTeam    ResourceKind = "team"
	ResourceMedical ResourceKind = "medical"
	ResourceShelter ResourceKind = "shelter"
	ResourceSupply  ResourceKind = "supply"
)

// Resource is one allocatable pool. 0 <= Allocated <= TotalCapacity holds at
// all times.
type Resource struct {
	Kind          ResourceKind `json:"kind"`
	TotalCapacity int          `json:"totalCapacity"`
	Allocated     int          `json:"allocated"`
}

// AllocationRecord ties granted capacity to an incident; removed when the
// incident reaches closed or failed.
type AllocationRecord struct {
	IncidentID  string       `json:"incidentId"`
	Kind        ResourceKind `json:"kind"`
	Quantity    int          `json:"quantity"`
	AllocatedAt time.Time    `json:"allocatedAt"`
}

// DispatchReport summarizes one alert dispatch run. Failed lists recipients
// whose transport kept failing after the retry budget; they are reported, not
// raised.
type DispatchReport struct {
	Delivered []string `json:"delivered"`
	Skipped   []string `json:"skipped"` // already sent for this (incident, version)
	Failed    []string `json:"failed"`
}
