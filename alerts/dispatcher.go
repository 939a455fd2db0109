package alerts

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go-beacon/db"
	"go-beacon/types"
)

// Dispatcher sends alerts exactly once per (incident, alertVersion, recipient).
// The sent-set lives in the store so restarts keep the guarantee. A failing
// recipient never blocks the others; exhausted retries land in the report.
type Dispatcher struct {
	notifier    Notifier
	store       db.Store
	baseDelay   time.Duration
	maxAttempts int
}

func NewDispatcher(notifier Notifier, store db.Store, baseDelay time.Duration, maxAttempts int) *Dispatcher {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Dispatcher{
		notifier:    notifier,
		store:       store,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
	}
}

func dispatchKey(incidentID string, version int, recipient string) string {
	return fmt.Sprintf("%s:%d:%s", incidentID, version, recipient)
}

// Dispatch delivers content to every recipient. Re-dispatching the same
// version to an already-covered recipient is a no-op (reported as skipped).
func (d *Dispatcher) Dispatch(ctx context.Context, incidentID string, version int, content string, recipients []string) types.DispatchReport {
	var (
		mu     sync.Mutex
		report types.DispatchReport
		wg     sync.WaitGroup
	)

	for _, recipient := range recipients {
		wg.Add(1)
		go func(recipient string) {
			defer wg.Done()

			key := dispatchKey(incidentID, version, recipient)
			sent, err := d.store.AlertSent(ctx, key)
			if err != nil {
				log.Printf("Error checking sent-set for %s: %v", key, err)
			}
			if sent {
				mu.Lock()
				report.Skipped = append(report.Skipped, recipient)
				mu.Unlock()
				return
			}

			if sendErr := d.sendWithRetry(ctx, recipient, content); sendErr != nil {
				log.Printf("Alert to %s failed after %d attempts: %v", recipient, d.maxAttempts, sendErr)
				mu.Lock()
				report.Failed = append(report.Failed, recipient)
				mu.Unlock()
				return
			}
			if err := d.store.MarkAlertSent(ctx, key); err != nil {
				// Delivered but not recorded; a re-dispatch may repeat this
				// recipient. Prefer duplicate delivery over a silent drop.
				log.Printf("Error recording sent-set key %s: %v", key, err)
			}
			mu.Lock()
			report.Delivered = append(report.Delivered, recipient)
			mu.Unlock()
		}(recipient)
	}
	wg.Wait()

	sort.Strings(report.Delivered)
	sort.Strings(report.Skipped)
	sort.Strings(report.Failed)
	return report
}

// sendWithRetry retries with exponential backoff: base, base*2, base*4, ...
func (d *Dispatcher) sendWithRetry(ctx context.Context, recipient, content string) error {
	delay := d.baseDelay
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		lastErr = d.notifier.Send(ctx, recipient, content)
		if lastErr == nil {
			return nil
		}
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}
