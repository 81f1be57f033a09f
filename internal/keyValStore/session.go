package keyValStore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// session buffers staged writes and flushes them into its badger transaction
// on commit. Reads made while staging go through the transaction so badger
// can detect conflicting commits.
type session struct {
	mu      sync.Mutex
	id      string
	store   *KeyValStore
	txn     *badger.Txn
	pending map[string]pendingWrite
	order   []string
	ended   bool
}

func (s *session) ID() string { return s.id }

func (s *session) fields() logrus.Fields {
	return logrus.Fields{"session": s.id}
}

func (s *session) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return datastore.ErrSessionClosed
	}
	if s.txn != nil {
		return datastore.ErrTransactionOpen
	}
	s.txn = s.store.badgerDB.NewTransaction(true)
	s.pending = make(map[string]pendingWrite)
	s.order = nil
	return nil
}

func (s *session) discard() {
	if s.txn != nil {
		s.txn.Discard()
	}
	s.txn = nil
	s.pending = nil
	s.order = nil
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

	for _, key := range s.order {
		w := s.pending[key]
		var err error
		if w.deleted {
			err = s.txn.Delete([]byte(key))
		} else {
			err = s.txn.Set([]byte(key), w.value)
		}
		if errors.Is(err, badger.ErrTxnTooBig) {
			staged := len(s.order)
			log.WithFields(s.fields()).WithField("writes", staged).Warn("transaction exceeds badger batch limits")
			s.discard()
			return fmt.Errorf("%w: %d staged writes: %w", datastore.ErrTxnTooLarge, staged, err)
		}
		if err != nil {
			s.discard()
			return fmt.Errorf("flush %s: %w", key, err)
		}
	}

	err := s.txn.Commit()
	switch {
	case err == nil:
		s.txn = nil
		s.pending = nil
		s.order = nil
		return nil
	case errors.Is(err, badger.ErrConflict):
		log.WithFields(s.fields()).Debug("transaction conflict")
		s.discard()
		return datastore.WithLabels(err, datastore.LabelTransientTransaction)
	case errors.Is(err, badger.ErrBlockedWrites):
		// writes are kept so a repeated commit replays them on a new transaction
		log.WithFields(s.fields()).Warn("commit blocked, keeping staged writes")
		s.txn.Discard()
		s.txn = s.store.badgerDB.NewTransaction(true)
		return datastore.WithLabels(err, datastore.LabelUnknownCommitResult)
	default:
		s.discard()
		return err
	}
}

func (s *session) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return datastore.ErrSessionClosed
	}
	s.discard()
	return nil
}

func (s *session) EndSession(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discard()
	s.ended = true
}

func (s *session) get(key string) (datastore.Document, bool, error) {
	if w, ok := s.pending[key]; ok {
		if w.deleted {
			return nil, false, nil
		}
		doc, err := datastore.DecodeDocument(w.value)
		return doc, err == nil, err
	}
	item, err := s.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	doc, err := s.store.decodeItem(item)
	return doc, err == nil, err
}

func (s *session) put(key string, w pendingWrite) {
	if _, ok := s.pending[key]; !ok {
		s.order = append(s.order, key)
	}
	s.pending[key] = w
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
			key := string(documentKey(kind, id))
			_, exists, err := s.get(key)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s", datastore.ErrDuplicateKey, id)
			}
			value, err := s.store.encode(o.Document)
			if err != nil {
				return err
			}
			s.put(key, pendingWrite{value: value})
		case *datastore.UpdateOne:
			key := string(documentKey(kind, o.ID))
			doc, exists, err := s.get(key)
			if err != nil || !exists {
				return err
			}
			if err := datastore.ApplyUpdate(doc, o.Update); err != nil {
				return err
			}
			value, err := s.store.encode(doc)
			if err != nil {
				return err
			}
			s.put(key, pendingWrite{value: value})
		case *datastore.DeleteMany:
			for _, id := range o.IDs {
				s.put(string(documentKey(kind, id)), pendingWrite{deleted: true})
			}
		default:
			return fmt.Errorf("%w: %T", datastore.ErrUnknownOperation, op)
		}
		return nil
	})
}
