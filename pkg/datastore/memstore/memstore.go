// Package memstore is an in-memory transactional document store. Sessions
// stage writes in an overlay and apply them atomically on commit; commits
// that touch a document changed since it was staged fail with a transient
// transaction error.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

type record struct {
	doc     datastore.Document
	version uint64
}

type Store struct {
	mu          sync.RWMutex
	collections map[types.AnchorType]map[types.ID]record
	clock       uint64
	closed      bool
	log         *logrus.Logger
}

// New returns an empty store. A nil logger falls back to logrus.New().
func New(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Store{
		collections: make(map[types.AnchorType]map[types.ID]record),
		log:         logger,
	}
	for _, kind := range types.AnchorTypes {
		s.collections[kind] = make(map[types.ID]record)
	}
	return s
}

func (s *Store) Collection(kind types.AnchorType) datastore.Collection {
	if _, ok := s.collections[kind]; !ok {
		return nil
	}
	return &collection{store: s, kind: kind}
}

func (s *Store) StartSession(ctx context.Context) (datastore.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, datastore.ErrSessionClosed
	}
	return &session{id: uuid.NewString(), store: s}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Count returns the number of committed documents of a kind.
func (s *Store) Count(kind types.AnchorType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[kind])
}

type collection struct {
	store *Store
	kind  types.AnchorType
}

func (c *collection) FindOne(ctx context.Context, id types.ID) (datastore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	rec, ok := c.store.collections[c.kind][id]
	if !ok {
		return nil, datastore.ErrNotFound
	}
	return rec.doc.Clone(), nil
}

// Scan visits committed documents in ID order.
func (c *collection) Scan(ctx context.Context, fn func(datastore.Document) error) error {
	c.store.mu.RLock()
	docs := make([]record, 0, len(c.store.collections[c.kind]))
	ids := make([]types.ID, 0, len(c.store.collections[c.kind]))
	for id := range c.store.collections[c.kind] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		docs = append(docs, c.store.collections[c.kind][id])
	}
	c.store.mu.RUnlock()

	for _, rec := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec.doc.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (c *collection) BulkWrite(ctx context.Context, sess datastore.Session, ops []datastore.Operation, ordered bool) error {
	s, ok := sess.(*session)
	if !ok || s.store != c.store {
		return fmt.Errorf("memstore: foreign session %T", sess)
	}
	return s.stage(ctx, c.kind, ops, ordered)
}
