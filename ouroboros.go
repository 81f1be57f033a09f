/*
!! Currently the database is in a very early stage of development and should not be used in production environments. !!
*/
package ouroboros

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/i5heu/ouroboros-graph/internal/keyValStore"
	"github.com/i5heu/ouroboros-graph/pkg/anchor"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	workerpool "github.com/i5heu/ouroboros-graph/pkg/workerPool"
	"github.com/sirupsen/logrus"
)

// OuroborosDB is the main database handle. It owns the document store, the
// architype registry and the worker pool concurrent walkers run on.
type OuroborosDB struct {
	log    *logrus.Logger
	config Config

	registry *anchor.Registry

	storeMu sync.RWMutex
	store   datastore.Store
	kv      *keyValStore.KeyValStore
	pool    *workerpool.WorkerPool

	cancel    context.CancelFunc
	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

var (
	ErrNotStarted   = errors.New("ouroboros: database not started")
	ErrClosed       = errors.New("ouroboros: database closed")
	ErrRootNotFound = errors.New("ouroboros: root not found")
)

// New constructs a database handle. New does not perform heavy I/O or start
// background goroutines. Call Start to initialize subsystems.
func New(conf Config) (*OuroborosDB, error) {
	if len(conf.Paths) == 0 && !conf.InMemory && conf.Store == nil {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	return &OuroborosDB{
		log:      conf.Logger,
		config:   conf,
		registry: anchor.NewRegistry(),
	}, nil
}

// Registry returns the architype registry shared by every context of this
// database. Register architypes before spawning walkers.
func (ou *OuroborosDB) Registry() *anchor.Registry {
	return ou.registry
}

func (ou *OuroborosDB) Register(def anchor.Definition) error {
	return ou.registry.Register(def)
}

// Start opens the store and the worker pool and marks the database as ready.
// Start is safe to call multiple times; only the first call has effect.
func (ou *OuroborosDB) Start(ctx context.Context) error {
	var startErr error
	ou.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.Background())

		store := ou.config.Store
		if store == nil {
			kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
				Paths:         ou.config.Paths,
				MinimumFreeGB: ou.config.MinimumFreeGB,
				InMemory:      ou.config.InMemory,
				Compress:      ou.config.Compress,
				Logger:        ou.log,
			})
			if err != nil {
				cancel()
				startErr = fmt.Errorf("error creating KeyValStore: %w", err)
				return
			}
			kv.StartTransactionCounter(bg)
			ou.kv = kv
			store = kv
			if ou.config.GarbageCollectionInterval > 0 && !ou.config.InMemory {
				go ou.garbageCollection(bg, ou.config.GarbageCollectionInterval)
			}
		}

		ou.storeMu.Lock()
		ou.store = store
		ou.pool = workerpool.NewWorkerPool(workerpool.Config{
			WorkerCount:  ou.config.Workers,
			GlobalBuffer: ou.config.QueueSize,
		})
		ou.storeMu.Unlock()
		ou.cancel = cancel

		ou.started.Store(true)
		ou.log.WithFields(logrus.Fields{
			"paths":    ou.config.Paths,
			"inMemory": ou.config.InMemory || ou.config.Store != nil,
			"workers":  ou.pool.WorkerCount(),
		}).Info("OuroborosDB started")
	})
	return startErr
}

// Run starts the database, then blocks until ctx is canceled, and finally
// performs a bounded graceful shutdown. It is a convenience for services.
func (ou *OuroborosDB) Run(ctx context.Context) error {
	if err := ou.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ou.Close(shutdownCtx)
}

// Close stops background work, waits for queued walkers and releases the
// store. Close is idempotent and safe to call multiple times.
func (ou *OuroborosDB) Close(ctx context.Context) error {
	var closeErr *multierror.Error
	ou.closeOnce.Do(func() {
		if ou.cancel != nil {
			ou.cancel()
		}

		ou.storeMu.Lock()
		pool, kv := ou.pool, ou.kv
		ou.store, ou.pool, ou.kv = nil, nil, nil
		ou.storeMu.Unlock()

		if pool != nil {
			pool.Close()
		}
		if kv != nil {
			if err := kv.Close(); err != nil {
				closeErr = multierror.Append(closeErr, fmt.Errorf("close kv: %w", err))
			}
		}
		ou.log.Info("OuroborosDB closed")
	})
	return closeErr.ErrorOrNil()
}

// CloseWithoutContext closes the database using a background context.
func (ou *OuroborosDB) CloseWithoutContext() error {
	return ou.Close(context.Background())
}

func (ou *OuroborosDB) garbageCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ou.storeMu.RLock()
			kv := ou.kv
			ou.storeMu.RUnlock()
			if kv == nil {
				return
			}
			if err := kv.Clean(); err != nil {
				ou.log.Warnf("Error during garbage collection: %v", err)
			}
		}
	}
}

func (ou *OuroborosDB) handles() (datastore.Store, *workerpool.WorkerPool, error) {
	if !ou.started.Load() {
		return nil, nil, ErrNotStarted
	}
	ou.storeMu.RLock()
	defer ou.storeMu.RUnlock()
	if ou.store == nil {
		return nil, nil, ErrClosed
	}
	return ou.store, ou.pool, nil
}

// Store returns the active document store.
func (ou *OuroborosDB) Store() (datastore.Store, error) {
	store, _, err := ou.handles()
	return store, err
}

func (ou *OuroborosDB) newContext(store datastore.Store, root *anchor.NodeAnchor) *anchor.ExecContext {
	retry := ou.config.retry()
	return anchor.NewExecContext(anchor.ContextConfig{
		Store:    store,
		Registry: ou.registry,
		Root:     root,
		Retry:    &retry,
		Logger:   ou.log,
	})
}

// SystemContext returns a context without principal. It has full access to
// every anchor.
func (ou *OuroborosDB) SystemContext() (*anchor.ExecContext, error) {
	store, err := ou.Store()
	if err != nil {
		return nil, err
	}
	return ou.newContext(store, nil), nil
}

// CreateRoot persists a new root principal.
func (ou *OuroborosDB) CreateRoot(ctx context.Context) (*anchor.NodeAnchor, error) {
	store, err := ou.Store()
	if err != nil {
		return nil, err
	}
	root := anchor.NewRootNode(types.ID{})
	ec := ou.newContext(store, root)
	if _, err := root.Save(ctx, ec, nil); err != nil {
		return nil, fmt.Errorf("create root: %w", err)
	}
	ou.log.WithField("root", root.RefID()).Debug("root created")
	return root, nil
}

// NewContext returns a fresh context acting as the persisted root rootID.
// A zero rootID returns the system context.
func (ou *OuroborosDB) NewContext(ctx context.Context, rootID types.ID) (*anchor.ExecContext, error) {
	store, err := ou.Store()
	if err != nil {
		return nil, err
	}
	if rootID.IsZero() {
		return ou.newContext(store, nil), nil
	}

	root, err := anchor.NodeRef(types.NewRef(types.Node, "Root", rootID).String())
	if err != nil {
		return nil, err
	}
	ec := ou.newContext(store, root)
	arch, err := root.Sync(ctx, ec, nil)
	if err != nil {
		return nil, fmt.Errorf("load root %s: %w", rootID, err)
	}
	if _, ok := arch.(*anchor.Root); !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, rootID)
	}
	return ec, nil
}

// SpawnJob describes one walker run for SpawnAll.
type SpawnJob struct {
	// Root is the principal the walker runs as. Zero runs as the system.
	Root types.ID
	// Start is the reference string of the start node or edge.
	Start string
	// Walker is a fresh, unbound walker architype.
	Walker     anchor.Architype
	Persistent bool
}

// SpawnAll runs every job on the worker pool, each inside its own context,
// and persists what the walkers changed. The returned walkers line up with
// jobs; failed jobs leave a nil entry and contribute to the combined error.
func (ou *OuroborosDB) SpawnAll(ctx context.Context, jobs []SpawnJob) ([]*anchor.WalkerAnchor, error) {
	_, pool, err := ou.handles()
	if err != nil {
		return nil, err
	}

	var errs *multierror.Error
	walkers := make([]*anchor.WalkerAnchor, len(jobs))
	batch := pool.RoomCapacity()
	for offset := 0; offset < len(jobs); offset += batch {
		end := offset + batch
		if end > len(jobs) {
			end = len(jobs)
		}
		errs = ou.spawnBatch(ctx, pool, jobs[offset:end], offset, walkers, errs)
	}
	return walkers, errs.ErrorOrNil()
}

// spawnBatch runs jobs, which must fit into one room, and stores their
// walkers at offset. Jobs that could not be queued count as failed.
func (ou *OuroborosDB) spawnBatch(ctx context.Context, pool *workerpool.WorkerPool, jobs []SpawnJob, offset int, walkers []*anchor.WalkerAnchor, errs *multierror.Error) *multierror.Error {
	room := pool.CreateRoom(ctx)
	for i, job := range jobs {
		job := job
		err := room.NewTask(func(ctx context.Context) (any, error) {
			return ou.spawn(ctx, job)
		})
		if err == nil {
			continue
		}
		// a task canceled while queueing reports through the room
		if ctxErr := ctx.Err(); ctxErr == nil || !errors.Is(err, ctxErr) {
			errs = multierror.Append(errs, fmt.Errorf("job %d: %w", offset+i, err))
		}
		for j := i + 1; j < len(jobs); j++ {
			errs = multierror.Append(errs, fmt.Errorf("job %d: not queued: %w", offset+j, err))
		}
		break
	}

	for _, r := range room.Collect() {
		if r.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("job %d: %w", offset+r.Index, r.Err))
			continue
		}
		walkers[offset+r.Index] = r.Value.(*anchor.WalkerAnchor)
	}
	return errs
}

func (ou *OuroborosDB) spawn(ctx context.Context, job SpawnJob) (*anchor.WalkerAnchor, error) {
	ec, err := ou.NewContext(ctx, job.Root)
	if err != nil {
		return nil, err
	}
	start, err := ec.Arena.Resolve(job.Start)
	if err != nil {
		return nil, err
	}
	w, err := anchor.NewWalker(ec, job.Walker)
	if err != nil {
		return nil, err
	}
	w.Persistent = job.Persistent

	if _, err := ec.Spawn(ctx, w, start); err != nil {
		return w, err
	}
	if _, err := ec.Flush(ctx); err != nil {
		return w, fmt.Errorf("flush %s: %w", w.RefID(), err)
	}
	return w, nil
}
