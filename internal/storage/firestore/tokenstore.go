package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

// DefaultCollection is the root collection holding one document per namespace.
const DefaultCollection = "push-bridge"

// FirestoreStore implements bridge.TokenStore using Google Cloud Firestore.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	namespace  string
}

var _ bridge.AtomicTokenStore = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client, collection, namespace string) *FirestoreStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreStore{client: client, collection: collection, namespace: namespace}
}

// tokenDocument is the internal DB representation.
type tokenDocument struct {
	Token     string    `firestore:"token"`
	NeedsSync bool      `firestore:"needs_sync"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// Put overwrites the whole document. Set without merge options is a full
// replace, so no field from an older write survives.
func (s *FirestoreStore) Put(ctx context.Context, record bridge.TokenRecord) error {
	_, err := s.docRef().Set(ctx, toDocument(record))
	return err
}

// Update reads and writes the document inside a Firestore transaction. A
// concurrent write from another replica makes the transaction retry, so fn
// may run more than once and must not have side effects beyond its result.
func (s *FirestoreStore) Update(ctx context.Context, fn bridge.UpdateFunc) error {
	ref := s.docRef()
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, found, err := fromSnapshot(tx.Get(ref))
		if err != nil {
			return err
		}
		next, write, err := fn(current, found)
		if err != nil || !write {
			return err
		}
		return tx.Set(ref, toDocument(next))
	})
}

func toDocument(record bridge.TokenRecord) tokenDocument {
	return tokenDocument{
		Token:     record.Token,
		NeedsSync: record.NeedsSync,
		UpdatedAt: time.Now(),
	}
}

func (s *FirestoreStore) Get(ctx context.Context) (bridge.TokenRecord, bool, error) {
	return fromSnapshot(s.docRef().Get(ctx))
}

func fromSnapshot(snap *firestore.DocumentSnapshot, err error) (bridge.TokenRecord, bool, error) {
	if status.Code(err) == codes.NotFound {
		return bridge.TokenRecord{}, false, nil
	}
	if err != nil {
		return bridge.TokenRecord{}, false, fmt.Errorf("firestore get failed: %w", err)
	}

	var doc tokenDocument
	if err := snap.DataTo(&doc); err != nil {
		return bridge.TokenRecord{}, false, fmt.Errorf("corrupt token document: %w", err)
	}
	return bridge.TokenRecord{Token: doc.Token, NeedsSync: doc.NeedsSync}, true, nil
}

// docRef: {collection}/{namespace}
func (s *FirestoreStore) docRef() *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.namespace)
}
