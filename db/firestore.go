package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go-beacon/types"
)

const (
	incidentsCollection = "incidents"
	sosCollection       = "sos"
	alertsCollection    = "alertSends"
)

// FirestoreStore persists incidents, SOS reports and the alert sent-set in
// Firestore. Incident versioning is enforced inside a transaction.
type FirestoreStore struct {
	client *firestore.Client
}

// InitFirestore builds a client from the base64-encoded service account JSON
// in encodedCreds.
func InitFirestore(ctx context.Context, encodedCreds string) (*FirestoreStore, error) {
	creds, err := base64.StdEncoding.DecodeString(encodedCreds)
	if err != nil {
		return nil, fmt.Errorf("failed to decode Firestore credentials: %w", err)
	}

	opt := option.WithCredentialsJSON(creds)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// PutIncident commits the incident, enforcing optimistic versioning: the
// transaction re-reads the stored version and aborts with ErrStaleWrite on a
// mismatch. On success the incident's Version is bumped in place.
func (s *FirestoreStore) PutIncident(ctx context.Context, inc *types.Incident) error {
	if inc.ID == "" {
		return fmt.Errorf("incident missing ID")
	}
	docRef := s.client.Collection(incidentsCollection).Doc(inc.ID)

	next := inc.Version + 1
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("error getting incident doc %s: %w", inc.ID, err)
		}
		if err == nil {
			stored, verr := doc.DataAt("version")
			if verr == nil {
				if v, ok := stored.(int64); ok && v != inc.Version {
					return ErrStaleWrite
				}
			}
		} else if inc.Version != 0 {
			// Record vanished underneath a versioned write.
			return ErrStaleWrite
		}

		committed := *inc
		committed.Version = next
		return tx.Set(docRef, committed)
	})
	if err != nil {
		return err
	}
	inc.Version = next
	return nil
}

func (s *FirestoreStore) GetIncident(ctx context.Context, id string) (*types.Incident, error) {
	doc, err := s.client.Collection(incidentsCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting incident %s: %w", id, err)
	}

	var inc types.Incident
	if err := doc.DataTo(&inc); err != nil {
		return nil, fmt.Errorf("error converting document %s to Incident: %w", id, err)
	}
	inc.ID = doc.Ref.ID
	return &inc, nil
}

// ListOpenIncidents returns every incident not yet in a terminal state, used
// to replay interrupted pipeline runs on startup.
func (s *FirestoreStore) ListOpenIncidents(ctx context.Context) ([]*types.Incident, error) {
	var open []*types.Incident

	iter := s.client.Collection(incidentsCollection).
		Where("status", "not-in", []string{string(types.StatusClosed), string(types.StatusFailed)}).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating incidents: %w", err)
		}
		var inc types.Incident
		if err := doc.DataTo(&inc); err != nil {
			return nil, fmt.Errorf("error converting document %s to Incident: %w", doc.Ref.ID, err)
		}
		inc.ID = doc.Ref.ID
		open = append(open, &inc)
	}
	return open, nil
}

func (s *FirestoreStore) PutSOS(ctx context.Context, msg *types.SOSMessage) error {
	if msg.ID == "" {
		return fmt.Errorf("sos message missing ID")
	}
	_, err := s.client.Collection(sosCollection).Doc(msg.ID).Set(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to set sos doc %s: %w", msg.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetSOS(ctx context.Context, id string) (*types.SOSMessage, error) {
	doc, err := s.client.Collection(sosCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting sos %s: %w", id, err)
	}

	var msg types.SOSMessage
	if err := doc.DataTo(&msg); err != nil {
		return nil, fmt.Errorf("error converting document %s to SOSMessage: %w", id, err)
	}
	msg.ID = doc.Ref.ID
	return &msg, nil
}

func (s *FirestoreStore) ListSOSByCell(ctx context.Context, cell string, since time.Time) ([]*types.SOSMessage, error) {
	var msgs []*types.SOSMessage

	iter := s.client.Collection(sosCollection).
		Where("geocell", "==", cell).
		Where("timestamp", ">=", since).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating sos by cell %s: %w", cell, err)
		}
		var msg types.SOSMessage
		if err := doc.DataTo(&msg); err != nil {
			return nil, fmt.Errorf("error converting document %s to SOSMessage: %w", doc.Ref.ID, err)
		}
		msg.ID = doc.Ref.ID
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}

func (s *FirestoreStore) AlertSent(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Collection(alertsCollection).Doc(key).Get(ctx)
	if err == nil {
		return true, nil
	}
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	return false, fmt.Errorf("error checking alert key %s: %w", key, err)
}

func (s *FirestoreStore) MarkAlertSent(ctx context.Context, key string) error {
	_, err := s.client.Collection(alertsCollection).Doc(key).Set(ctx, map[string]interface{}{
		"sentAt": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to record alert key %s: %w", key, err)
	}
	return nil
}
