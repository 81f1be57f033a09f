package anchor

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

// BulkWrite collects the operations of one save cascade and executes them as
// a single store transaction.
type BulkWrite struct {
	Operations map[types.AnchorType][]datastore.Operation

	delOps   map[types.AnchorType]*datastore.DeleteMany
	deleted  map[types.ID]struct{}
	inserted []*Anchor
	insertID map[types.ID]struct{}
	consumed []consumedChanges
	retry    RetryConfig
	log      *logrus.Logger
}

type consumedChanges struct {
	anchor  *Anchor
	changes changeSet
	hashes  map[string]uint64
}

func newBulkWrite(ec *ExecContext) *BulkWrite {
	return NewBulkWrite(ec.Retry, ec.Log)
}

func NewBulkWrite(retry RetryConfig, logger *logrus.Logger) *BulkWrite {
	if logger == nil {
		logger = logrus.New()
	}
	ops := make(map[types.AnchorType][]datastore.Operation, 4)
	for _, kind := range []types.AnchorType{types.Node, types.Edge, types.Walker, types.Generic} {
		ops[kind] = nil
	}
	return &BulkWrite{
		Operations: ops,
		delOps:     make(map[types.AnchorType]*datastore.DeleteMany),
		deleted:    make(map[types.ID]struct{}),
		insertID:   make(map[types.ID]struct{}),
		retry:      retry,
		log:        logger,
	}
}

func (b *BulkWrite) add(kind types.AnchorType, op datastore.Operation) {
	b.Operations[kind] = append(b.Operations[kind], op)
}

// del queues id for deletion. The first deletion of a kind appends its
// DeleteMany; later ones extend it in place.
func (b *BulkWrite) del(kind types.AnchorType, id types.ID) {
	op, ok := b.delOps[kind]
	if !ok {
		op = &datastore.DeleteMany{}
		b.delOps[kind] = op
		b.add(kind, op)
	}
	op.Add(id)
	b.deleted[id] = struct{}{}
}

func (b *BulkWrite) DelNode(id types.ID)   { b.del(types.Node, id) }
func (b *BulkWrite) DelEdge(id types.ID)   { b.del(types.Edge, id) }
func (b *BulkWrite) DelWalker(id types.ID) { b.del(types.Walker, id) }

func (b *BulkWrite) isDeleted(id types.ID) bool {
	_, ok := b.deleted[id]
	return ok
}

// HasOperations reports whether anything persisted was queued.
func (b *BulkWrite) HasOperations() bool {
	for _, kind := range types.AnchorTypes {
		if len(b.Operations[kind]) > 0 {
			return true
		}
	}
	return false
}

func (b *BulkWrite) markInserted(a *Anchor) {
	b.inserted = append(b.inserted, a)
	b.insertID[a.ID] = struct{}{}
}

func (b *BulkWrite) wasInserted(id types.ID) bool {
	_, ok := b.insertID[id]
	return ok
}

func (b *BulkWrite) remember(a *Anchor, changes changeSet) {
	hashes := make(map[string]uint64, len(a.hashes))
	for k, v := range a.hashes {
		hashes[k] = v
	}
	b.consumed = append(b.consumed, consumedChanges{anchor: a, changes: changes.clone(), hashes: hashes})
}

// rollback undoes the in-memory effects of a failed execution so a later
// save retries the same writes.
func (b *BulkWrite) rollback() {
	for _, a := range b.inserted {
		a.connected = false
	}
	for i := len(b.consumed) - 1; i >= 0; i-- {
		c := b.consumed[i]
		if c.anchor.changes.empty() {
			c.anchor.changes = c.changes
		}
		c.anchor.hashes = c.hashes
	}
}

// forget drops deleted anchors from the arena after a successful execution.
func (b *BulkWrite) forget(ec *ExecContext) {
	for id := range b.deleted {
		ec.Arena.Remove(id)
	}
}

// Execute runs the queued node, edge and walker operations inside sess and
// commits. Errors labeled as transient restart the transaction and retry the
// whole body up to TransactionMaxRetry times.
func (b *BulkWrite) Execute(ctx context.Context, store datastore.Store, sess datastore.Session) error {
	for attempt := 0; ; attempt++ {
		err := b.executeOnce(ctx, store, sess)
		if err == nil {
			return nil
		}

		fields := logrus.Fields{
			"session": sess.ID(),
			"retry":   attempt + 1,
			"max":     b.retry.TransactionMaxRetry,
		}
		if datastore.HasErrorLabel(err, datastore.LabelTransientTransaction) && attempt < b.retry.TransactionMaxRetry {
			b.log.WithFields(fields).Warnf("Error executing bulk write, retrying: %v", err)
			if err := sess.AbortTransaction(ctx); err != nil {
				return fmt.Errorf("abort before retry: %w", err)
			}
			if err := sess.StartTransaction(ctx); err != nil {
				return fmt.Errorf("restart transaction: %w", err)
			}
			continue
		}

		b.log.WithFields(fields).Errorf("Error executing bulk write: %v", err)
		if abortErr := sess.AbortTransaction(ctx); abortErr != nil {
			b.log.WithFields(fields).Warnf("abort failed: %v", abortErr)
		}
		return err
	}
}

func (b *BulkWrite) executeOnce(ctx context.Context, store datastore.Store, sess datastore.Session) error {
	for _, kind := range types.AnchorTypes {
		ops := b.Operations[kind]
		if len(ops) == 0 {
			continue
		}
		coll := store.Collection(kind)
		if coll == nil {
			return fmt.Errorf("no collection for %s", kind)
		}
		if err := coll.BulkWrite(ctx, sess, ops, false); err != nil {
			return fmt.Errorf("bulk write %s: %w", kind.Collection(), err)
		}
	}
	return b.commit(ctx, sess)
}

// commit retries commits whose outcome is unknown up to CommitMaxRetry times.
// Any other failure aborts the transaction.
func (b *BulkWrite) commit(ctx context.Context, sess datastore.Session) error {
	for attempt := 0; ; attempt++ {
		err := sess.CommitTransaction(ctx)
		if err == nil {
			return nil
		}
		fields := logrus.Fields{
			"session": sess.ID(),
			"retry":   attempt + 1,
			"max":     b.retry.CommitMaxRetry,
		}
		if datastore.HasErrorLabel(err, datastore.LabelUnknownCommitResult) {
			if attempt < b.retry.CommitMaxRetry {
				b.log.WithFields(fields).Warnf("Error committing bulk write, retrying: %v", err)
				continue
			}
			b.log.WithFields(fields).Errorf("Error committing bulk write after max retry: %v", err)
			return err
		}
		b.log.WithFields(fields).Errorf("Error committing bulk write: %v", err)
		if abortErr := sess.AbortTransaction(ctx); abortErr != nil {
			b.log.WithFields(fields).Warnf("abort failed: %v", abortErr)
		}
		return err
	}
}
