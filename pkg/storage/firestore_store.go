package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/polisai/polis-docintel/pkg/domain"
)

// DefaultRunCollection is the Firestore collection used when none is configured.
const DefaultRunCollection = "pipelineRuns"

type firestoreRun struct {
	ID           string    `firestore:"id"`
	CreatedAt    time.Time `firestore:"createdAt"`
	DocumentType string    `firestore:"documentType"`
	Synthesized  bool      `firestore:"synthesized"`
	IsValid      bool      `firestore:"isValid"`
	Score        int       `firestore:"score"`
	Payload      string    `firestore:"payload"`
}

// FirestoreRunStore keeps runs in a Firestore collection, one document per
// run keyed by run ID. isValid and score are promoted for downstream queries.
type FirestoreRunStore struct {
	client     *firestore.Client
	collection string
	owned      bool
}

// NewFirestoreRunStore creates a Firestore client for projectID.
func NewFirestoreRunStore(ctx context.Context, projectID, collection string) (*FirestoreRunStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	s := NewFirestoreRunStoreWithClient(client, collection)
	s.owned = true
	return s, nil
}

// NewFirestoreRunStoreWithClient uses an existing client, which Close leaves open.
func NewFirestoreRunStoreWithClient(client *firestore.Client, collection string) *FirestoreRunStore {
	if collection == "" {
		collection = DefaultRunCollection
	}
	return &FirestoreRunStore{client: client, collection: collection}
}

// Save writes the run document.
func (s *FirestoreRunStore) Save(ctx context.Context, run domain.PipelineRun) error {
	if run.ID == "" {
		return fmt.Errorf("save run: empty id")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	doc := firestoreRun{
		ID:           run.ID,
		CreatedAt:    run.CreatedAt,
		DocumentType: string(run.DocumentType),
		Synthesized:  run.Synthesized(),
		IsValid:      run.Compliance.IsValid,
		Score:        run.Compliance.Score,
		Payload:      string(payload),
	}
	if _, err := s.client.Collection(s.collection).Doc(run.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads one run.
func (s *FirestoreRunStore) Get(ctx context.Context, id string) (domain.PipelineRun, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.PipelineRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return domain.PipelineRun{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return decodeSnapshot(snap)
}

// List returns up to limit runs, newest first.
func (s *FirestoreRunStore) List(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	iter := s.client.Collection(s.collection).
		OrderBy("createdAt", firestore.Desc).
		Limit(normalizeLimit(limit)).
		Documents(ctx)
	defer iter.Stop()

	var out []domain.PipelineRun
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		run, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// Close closes the client when the store created it.
func (s *FirestoreRunStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (domain.PipelineRun, error) {
	var doc firestoreRun
	if err := snap.DataTo(&doc); err != nil {
		return domain.PipelineRun{}, fmt.Errorf("decode run %s: %w", snap.Ref.ID, err)
	}
	return decodeRun(doc.Payload)
}
