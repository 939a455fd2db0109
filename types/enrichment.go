package types

import "time"

type SourceErrorKind string

const (
	SourceTimeout     SourceErrorKind = "timeout"
	SourceUnavailable SourceErrorKind = "unavailable"
)

type SourceError struct {
	Kind    SourceErrorKind `firestore:"kind" json:"kind"`
	Message string          `firestore:"message" json:"message"`
}

func (e *SourceError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// EnrichmentResult is one source's contribution to a snapshot. Exactly one of
// Data and Err is meaningful. Stale means the data was carried over from a
// prior cycle because the fresh fetch timed out.
type EnrichmentResult struct {
	SourceName string                 `firestore:"sourceName" json:"sourceName"`
	Data       map[string]interface{} `firestore:"data,omitempty" json:"data,omitempty"`
	Err        *SourceError           `firestore:"error,omitempty" json:"error,omitempty"`
	FetchedAt  time.Time              `firestore:"fetchedAt" json:"fetchedAt"`
	Stale      bool                   `firestore:"stale" json:"stale"`
}

// EnrichmentSnapshot holds the merged per-source results for one cycle,
// keyed by source name.
type EnrichmentSnapshot struct {
	Results map[string]EnrichmentResult `firestore:"results" json:"results"`
	TakenAt time.Time                   `firestore:"takenAt" json:"takenAt"`
}

// HasErrors reports whether any source failed or timed out this cycle.
func (s *EnrichmentSnapshot) HasErrors() bool {
	if s == nil {
		return false
	}
	for _, r := range s.Results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// FireWithinKM returns the distance to the nearest active fire detection, if
// the fire-detection source reported one this cycle.
func (s *EnrichmentSnapshot) FireWithinKM() (float64, bool) {
	if s == nil {
		return 0, false
	}
	r, ok := s.Results["firedetect"]
	if !ok || r.Err != nil {
		return 0, false
	}
	if asInt(r.Data["count"]) <= 0 {
		return 0, false
	}
	nearest, ok := asFloat(r.Data["nearest_km"])
	if !ok {
		return 0, false
	}
	return nearest, true
}

// asInt coerces the numeric types a payload value may carry depending on
// where it was decoded: int in process, float64 from JSON, int64 from
// Firestore replay.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
