package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/deskworks/ticket-desk/internal/domain"
	"github.com/deskworks/ticket-desk/internal/persistence"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrCorruptCollection means the stored value could not be decoded.
	ErrCorruptCollection = errors.New("stored ticket collection is corrupt")
	// ErrVersionConflict means another writer replaced the collection
	// between load and save.
	ErrVersionConflict = errors.New("ticket collection changed concurrently")
	// ErrPersistFailed means the backend rejected the write.
	ErrPersistFailed = errors.New("ticket collection could not be persisted")
)

// collectionEnvelope is the stored form. Older data may be a bare array of
// tickets, which decodes as version 0.
type collectionEnvelope struct {
	Version uint64          `json:"version"`
	Tickets []domain.Ticket `json:"tickets"`
}

// Snapshot is one loaded state of the collection. Save needs it to detect
// concurrent writers.
type Snapshot struct {
	Tickets []domain.Ticket
	Version uint64

	raw         []byte
	unavailable bool
}

// CollectionStore maps the whole ticket collection onto a single key.
type CollectionStore struct {
	kv  persistence.KV
	key string
}

// NewCollectionStore binds the collection to key in kv.
func NewCollectionStore(kv persistence.KV, key string) *CollectionStore {
	return &CollectionStore{kv: kv, key: key}
}

// Key returns the storage key.
func (s *CollectionStore) Key() string {
	return s.key
}

// Load reads the collection. The returned snapshot is always usable: an
// absent key yields an empty collection with no error, while a corrupt value
// or backend failure yields an empty collection together with the error.
func (s *CollectionStore) Load(ctx context.Context) (Snapshot, error) {
	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, persistence.ErrKeyNotFound) {
		return Snapshot{Tickets: []domain.Ticket{}}, nil
	}
	if err != nil {
		return Snapshot{Tickets: []domain.Ticket{}, unavailable: true}, fmt.Errorf("read %s: %w", s.key, err)
	}

	env, err := decodeCollection(raw)
	if err != nil {
		return Snapshot{Tickets: []domain.Ticket{}, raw: raw}, fmt.Errorf("%w: %v", ErrCorruptCollection, err)
	}
	return Snapshot{Tickets: env.Tickets, Version: env.Version, raw: raw}, nil
}

// Save replaces the collection loaded as prev with tickets. It fails with
// ErrVersionConflict if the stored value is no longer the one prev was read
// from.
func (s *CollectionStore) Save(ctx context.Context, prev Snapshot, tickets []domain.Ticket) (Snapshot, error) {
	if prev.unavailable {
		return Snapshot{}, fmt.Errorf("%w: collection was never read", ErrPersistFailed)
	}
	if tickets == nil {
		tickets = []domain.Ticket{}
	}
	env := collectionEnvelope{Version: prev.Version + 1, Tickets: tickets}
	raw, err := json.Marshal(env)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: encode: %w", ErrPersistFailed, err)
	}

	ok, err := s.kv.CompareAndSwap(ctx, s.key, prev.raw, raw)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	if !ok {
		return Snapshot{}, ErrVersionConflict
	}
	return Snapshot{Tickets: tickets, Version: env.Version, raw: raw}, nil
}

func decodeCollection(raw []byte) (collectionEnvelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tickets []domain.Ticket
		if err := json.Unmarshal(trimmed, &tickets); err != nil {
			return collectionEnvelope{}, err
		}
		return collectionEnvelope{Tickets: nonNil(tickets)}, nil
	}

	var env collectionEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return collectionEnvelope{}, err
	}
	env.Tickets = nonNil(env.Tickets)
	return env, nil
}

func nonNil(tickets []domain.Ticket) []domain.Ticket {
	if tickets == nil {
		return []domain.Ticket{}
	}
	return tickets
}
