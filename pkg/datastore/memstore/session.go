package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

var errWriteConflict = errors.New("memstore: write conflict")

// staged is the session-local view of one document. A nil doc marks a delete.
type staged struct {
	doc  datastore.Document
	base uint64
}

type session struct {
	mu    sync.Mutex
	id    string
	store *Store
	ended bool
	txn   map[types.AnchorType]map[types.ID]*staged
}

func (s *session) ID() string { return s.id }

func (s *session) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return datastore.ErrSessionClosed
	}
	if s.txn != nil {
		return datastore.ErrTransactionOpen
	}
	s.txn = make(map[types.AnchorType]map[types.ID]*staged)
	return nil
}

func (s *session) CommitTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return datastore.ErrSessionClosed
	}
	if s.txn == nil {
		return datastore.ErrNoTransaction
	}

	st := s.store
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return datastore.ErrSessionClosed
	}

	for kind, docs := range s.txn {
		for id, sd := range docs {
			if st.collections[kind][id].version != sd.base {
				st.log.WithFields(logrus.Fields{
					"session": s.id,
					"kind":    kind.String(),
					"id":      id.String(),
				}).Debug("commit conflict")
				// the transaction stays open so the caller can abort and retry
				return datastore.WithLabels(
					fmt.Errorf("%w on %s %s", errWriteConflict, kind, id),
					datastore.LabelTransientTransaction,
				)
			}
		}
	}

	for kind, docs := range s.txn {
		for id, sd := range docs {
			if sd.doc == nil {
				delete(st.collections[kind], id)
				continue
			}
			st.clock++
			st.collections[kind][id] = record{doc: sd.doc, version: st.clock}
		}
	}
	s.txn = nil
	return nil
}

func (s *session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return datastore.ErrSessionClosed
	}
	s.txn = nil
	return nil
}

func (s *session) EndSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txn = nil
	s.ended = true
}

// current returns the session view of id, recording the committed version the
// first time the document is touched.
func (s *session) current(kind types.AnchorType, id types.ID) *staged {
	docs, ok := s.txn[kind]
	if !ok {
		docs = make(map[types.ID]*staged)
		s.txn[kind] = docs
	}
	if sd, ok := docs[id]; ok {
		return sd
	}
	s.store.mu.RLock()
	rec, ok := s.store.collections[kind][id]
	s.store.mu.RUnlock()
	sd := &staged{base: rec.version}
	if ok {
		sd.doc = rec.doc.Clone()
	}
	docs[id] = sd
	return sd
}

func (s *session) stage(ctx context.Context, kind types.AnchorType, ops []datastore.Operation, ordered bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return datastore.ErrSessionClosed
	}
	if s.txn == nil {
		return datastore.ErrNoTransaction
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return datastore.RunOps(ops, ordered, func(_ int, op datastore.Operation) error {
		switch o := op.(type) {
		case *datastore.InsertOne:
			id, err := o.Document.ID()
			if err != nil {
				return err
			}
			sd := s.current(kind, id)
			if sd.doc != nil {
				return fmt.Errorf("%w: %s", datastore.ErrDuplicateKey, id)
			}
			n, err := datastore.Normalize(map[string]any(o.Document))
			if err != nil {
				return err
			}
			sd.doc = datastore.Document(n.(map[string]any))
		case *datastore.UpdateOne:
			sd := s.current(kind, o.ID)
			if sd.doc == nil {
				return nil
			}
			doc := sd.doc.Clone()
			if err := datastore.ApplyUpdate(doc, o.Update); err != nil {
				return err
			}
			sd.doc = doc
		case *datastore.DeleteMany:
			for _, id := range o.IDs {
				s.current(kind, id).doc = nil
			}
		default:
			return fmt.Errorf("%w: %T", datastore.ErrUnknownOperation, op)
		}
		return nil
	})
}
