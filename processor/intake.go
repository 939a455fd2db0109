package processor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-beacon/db"
	"go-beacon/dedup"
	"go-beacon/pipeline"
	"go-beacon/signal"
	"go-beacon/types"
)

// Intake turns raw reports into stored SOS messages and pipeline work. It is
// the single entry point shared by the HTTP handlers and the feed pollers.
type Intake struct {
	Analyzer *signal.Analyzer
	Store    db.Store
	Dedup    *dedup.Deduplicator
	Pipeline *pipeline.Pipeline
}

// ReportResult tells the caller what the report amounted to.
type ReportResult struct {
	SOSID      string `json:"sosId,omitempty"`
	IncidentID string `json:"incidentId,omitempty"`
	Created    bool   `json:"created"`
	Verified   bool   `json:"verified"`
	Discarded  bool   `json:"discarded"`
}

// ProcessReport analyzes one report and, when it carries a distress signal,
// ingests it. Non-distress text is discarded before it can open a cluster.
func (in *Intake) ProcessReport(ctx context.Context, text string, loc types.Location, source string) (ReportResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ReportResult{}, fmt.Errorf("empty report text")
	}

	analysis, err := in.Analyzer.Analyze(ctx, text)
	if err != nil {
		return ReportResult{}, fmt.Errorf("failed to analyze report: %w", err)
	}
	if !analysis.Signal.IsDistress {
		return ReportResult{Discarded: true}, nil
	}

	msg := &types.SOSMessage{
		ID:           uuid.NewString(),
		Text:         text,
		Location:     loc,
		Timestamp:    time.Now().UTC(),
		Source:       source,
		SeverityHint: analysis.Signal.SeverityHint,
		Sentiment:    analysis.Sentiment,
	}

	res, err := in.Dedup.Ingest(ctx, msg)
	if err != nil {
		return ReportResult{}, fmt.Errorf("failed to ingest report: %w", err)
	}
	if err := in.Store.PutSOS(ctx, msg); err != nil {
		return ReportResult{}, fmt.Errorf("failed to store SOS message: %w", err)
	}

	if res.SupersededIncidentID != "" {
		in.Pipeline.Cancel(res.SupersededIncidentID, "superseded")
	}
	if res.Created {
		if err := in.Pipeline.Enqueue(res.IncidentID); err != nil {
			log.Printf("Intake: %v", err)
		}
	}

	return ReportResult{
		SOSID:      msg.ID,
		IncidentID: res.IncidentID,
		Created:    res.Created,
		Verified:   res.Verified,
	}, nil
}

// CreateIncident opens a verified incident directly, bypassing clustering.
// Operator-created incidents are trusted as-is.
func (in *Intake) CreateIncident(ctx context.Context, inc *types.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	inc.Status = types.StatusPending
	inc.Direct = true
	inc.CreatedAt = time.Now().UTC()

	if err := in.Store.PutIncident(ctx, inc); err != nil {
		return fmt.Errorf("failed to store incident: %w", err)
	}
	in.Dedup.TrackDirect(inc)
	return in.Pipeline.Enqueue(inc.ID)
}
