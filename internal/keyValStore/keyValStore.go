// Package keyValStore persists anchor documents in badger. Every anchor kind
// is a key prefix ("node:", "edge:", "walker:") followed by the hex ID.
package keyValStore

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
	closeOnce    sync.Once
	closeErr     error
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(config.Paths[0])
		opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	}
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger: %w", err)
	}

	if !config.InMemory {
		err = displayDiskUsage(config.Paths)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

// StartTransactionCounter logs read and write operations per second until ctx
// is done.
func (k *KeyValStore) StartTransactionCounter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				readOps := atomic.SwapUint64(&k.readCounter, 0)
				writeOps := atomic.SwapUint64(&k.writeCounter, 0)
				if readOps == 0 && writeOps == 0 {
					continue
				}
				log.WithFields(logrus.Fields{
					"reads/s":  readOps,
					"writes/s": writeOps,
				}).Debug("document store operations")
			}
		}
	}()
}

func (k *KeyValStore) Collection(kind types.AnchorType) datastore.Collection {
	if kind.Collection() == "" {
		return nil
	}
	return &collection{store: k, kind: kind}
}

func (k *KeyValStore) StartSession(ctx context.Context) (datastore.Session, error) {
	if k.badgerDB.IsClosed() {
		return nil, datastore.ErrSessionClosed
	}
	return &session{id: uuid.NewString(), store: k}, nil
}

func (k *KeyValStore) Close() error {
	k.closeOnce.Do(func() {
		if err := k.Clean(); err != nil {
			log.Warnf("error cleaning db before close: %v", err)
		}
		k.closeErr = k.badgerDB.Close()
	})
	return k.closeErr
}

func (k *KeyValStore) Clean() error {
	if k.config.InMemory {
		return nil
	}

	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = k.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}

	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

func documentKey(kind types.AnchorType, id types.ID) []byte {
	return []byte(kind.Collection() + ":" + id.String())
}

func (k *KeyValStore) encode(doc datastore.Document) ([]byte, error) {
	atomic.AddUint64(&k.writeCounter, 1)
	return datastore.EncodeDocument(doc, k.config.Compress)
}

func (k *KeyValStore) decodeItem(item *badger.Item) (datastore.Document, error) {
	atomic.AddUint64(&k.readCounter, 1)
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return datastore.DecodeDocument(value)
}

type collection struct {
	store *KeyValStore
	kind  types.AnchorType
}

func (c *collection) FindOne(ctx context.Context, id types.ID) (datastore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc datastore.Document
	err := c.store.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(c.kind, id))
		if err != nil {
			return err
		}
		doc, err = c.store.decodeItem(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datastore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s %s: %w", c.kind, id, err)
	}
	return doc, nil
}

// Scan visits every committed document of the collection in key order.
func (c *collection) Scan(ctx context.Context, fn func(datastore.Document) error) error {
	prefix := []byte(c.kind.Collection() + ":")
	return c.store.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := c.store.decodeItem(it.Item())
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if err := fn(doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *collection) BulkWrite(ctx context.Context, sess datastore.Session, ops []datastore.Operation, ordered bool) error {
	s, ok := sess.(*session)
	if !ok || s.store != c.store {
		return fmt.Errorf("keyValStore: foreign session %T", sess)
	}
	return s.stage(ctx, c.kind, ops, ordered)
}
