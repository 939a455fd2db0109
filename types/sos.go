package types

import "time"

// SOSMessage is an unverified distress signal from any channel. Immutable once
// created except for Verified, which the deduplicator sets once the report is
// corroborated or clustered with an existing incident.
type SOSMessage struct {
	ID           string    `firestore:"-" json:"id"`
	Text         string    `firestore:"text" json:"text"`
	Location     Location  `firestore:"location" json:"location"`
	Timestamp    time.Time `firestore:"timestamp" json:"timestamp"`
	Source       string    `firestore:"source" json:"source"` // bluesky, manual, official, ...
	SeverityHint Severity  `firestore:"severityHint,omitempty" json:"severityHint,omitempty"`
	Verified     bool      `firestore:"verified" json:"verified"`

	// Geocell is the coarse spatial bucket used for proximity clustering,
	// kept on the record as the secondary index key.
	Geocell string `firestore:"geocell" json:"geocell"`

	// Sentiment score of the report text, recorded at intake.
	Sentiment float32 `firestore:"sentiment" json:"sentiment"`
}
