// Package datastore defines the document store contract the graph engine
// persists through, together with the pieces every store implementation
// shares: documents, update operators, labeled errors and the binary codec.
package datastore

import (
	"context"
	"errors"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

var (
	ErrNotFound         = errors.New("datastore: document not found")
	ErrSessionClosed    = errors.New("datastore: session closed")
	ErrNoTransaction    = errors.New("datastore: no transaction in progress")
	ErrTransactionOpen  = errors.New("datastore: transaction already in progress")
	ErrDuplicateKey     = errors.New("datastore: duplicate key")
	ErrUnknownOperation = errors.New("datastore: unknown operation")
	ErrTxnTooLarge      = errors.New("datastore: transaction too large")
)

// Collection holds the documents of one anchor kind.
type Collection interface {
	// FindOne returns the committed document or ErrNotFound.
	FindOne(ctx context.Context, id types.ID) (Document, error)
	// BulkWrite stages ops inside the session's transaction. Unordered writes
	// attempt every op and report all failures; ordered writes stop at the first.
	BulkWrite(ctx context.Context, sess Session, ops []Operation, ordered bool) error
}

// Session scopes one transaction at a time.
type Session interface {
	ID() string
	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	// AbortTransaction discards staged writes. Aborting without an open
	// transaction is a no-op.
	AbortTransaction(ctx context.Context) error
	// EndSession aborts anything still open and releases the session.
	EndSession(ctx context.Context)
}

// Scanner is implemented by collections that can enumerate committed
// documents. Used by inspection tooling.
type Scanner interface {
	Scan(ctx context.Context, fn func(Document) error) error
}

// Store is the active collection set.
type Store interface {
	// Collection returns nil for kinds that are not persisted.
	Collection(kind types.AnchorType) Collection
	StartSession(ctx context.Context) (Session, error)
	Close() error
}
