package anchor

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
)

// RetryConfig bounds the two retry loops of a bulk write.
type RetryConfig struct {
	TransactionMaxRetry int
	CommitMaxRetry      int
}

func DefaultRetry() RetryConfig {
	return RetryConfig{TransactionMaxRetry: 1, CommitMaxRetry: 1}
}

type ContextConfig struct {
	Store    datastore.Store
	Registry *Registry
	Arena    *Arena       // nil gets a fresh arena
	Root     *NodeAnchor  // nil runs as the system with full access
	Retry    *RetryConfig // nil gets DefaultRetry
	Logger   *logrus.Logger
}

// ExecContext is the principal and data source a graph operation runs under.
// It is not safe for concurrent use; concurrent walkers each get their own.
type ExecContext struct {
	Root     *NodeAnchor
	Store    datastore.Store
	Arena    *Arena
	Registry *Registry
	Retry    RetryConfig
	Log      *logrus.Logger
}

func NewExecContext(cfg ContextConfig) *ExecContext {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Arena == nil {
		cfg.Arena = NewArena()
	}
	retry := DefaultRetry()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	ec := &ExecContext{
		Root:     cfg.Root,
		Store:    cfg.Store,
		Arena:    cfg.Arena,
		Registry: cfg.Registry,
		Retry:    retry,
		Log:      cfg.Logger,
	}
	if cfg.Root != nil {
		ec.Arena.adopt(cfg.Root)
	}
	return ec
}

// principal is the reference string scope overrides are keyed by.
func (ec *ExecContext) principal() string {
	if ec.Root == nil {
		return ""
	}
	return ec.Root.RefID()
}

// AccessLevel resolves the level the context principal holds on e.
func (ec *ExecContext) AccessLevel(e Entity) types.AccessLevel {
	return ec.accessLevel(e.Base())
}

func (ec *ExecContext) accessLevel(to *Anchor) types.AccessLevel {
	if ec.Root == nil {
		return types.Write
	}
	root := ec.Root.ID
	if root == to.ID || root == to.Root {
		return types.Write
	}

	level := to.Access.All
	principal := ec.principal()

	if !to.Root.IsZero() {
		if owner := ec.Arena.Get(to.Root); owner != nil && owner.Base().architype != nil {
			ownerAccess := owner.Base().Access
			if ownerAccess.All > level {
				level = ownerAccess.All
			}
			if level == types.NoAccess {
				level = ownerAccess.Roots.Check(principal)
			}
		}
	}

	if level == types.NoAccess {
		level = to.Access.Roots.Check(principal)
	}
	return level
}

// HasReadAccess reports whether to is visible. An anchor always sees itself.
func (ec *ExecContext) HasReadAccess(asker, to Entity) bool {
	var a *Anchor
	if asker != nil {
		a = asker.Base()
	}
	return ec.hasReadAccess(a, to.Base())
}

func (ec *ExecContext) hasReadAccess(asker, to *Anchor) bool {
	if asker != nil && asker.ID == to.ID {
		return true
	}
	return ec.accessLevel(to) > types.NoAccess
}

// Flush persists every resident, loaded anchor in one bulk write. Walkers
// that are not persistent are skipped.
func (ec *ExecContext) Flush(ctx context.Context) (*BulkWrite, error) {
	bulk := newBulkWrite(ec)
	for _, e := range ec.Arena.Entities() {
		if w, ok := e.(*WalkerAnchor); ok && !w.Persistent {
			continue
		}
		if err := save(ctx, ec, e, bulk); err != nil {
			return bulk, err
		}
	}
	return bulk, ec.run(ctx, bulk, nil)
}

// Spawn runs walker from start, then persists the walker if it is marked
// persistent or removes an earlier persisted copy otherwise.
func (ec *ExecContext) Spawn(ctx context.Context, walker *WalkerAnchor, start Entity) (Architype, error) {
	arch, err := walker.SpawnCall(ctx, ec, start)
	if err != nil {
		return arch, err
	}
	if walker.Persistent {
		if _, err := walker.Save(ctx, ec, nil); err != nil {
			return arch, fmt.Errorf("save walker %s: %w", walker.RefID(), err)
		}
	} else if walker.connected {
		if err := walker.Destroy(ctx, ec); err != nil {
			return arch, fmt.Errorf("destroy walker %s: %w", walker.RefID(), err)
		}
	}
	return arch, nil
}

// run executes bulk inside sess, or inside a fresh session and transaction
// that is always ended. Anchors inserted by a failed bulk become unconnected
// again and consumed changes are restored.
func (ec *ExecContext) run(ctx context.Context, bulk *BulkWrite, sess datastore.Session) (err error) {
	if !bulk.HasOperations() {
		return nil
	}
	defer func() {
		if err != nil {
			bulk.rollback()
		}
	}()

	if sess != nil {
		return bulk.Execute(ctx, ec.Store, sess)
	}

	sess, err = ec.Store.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	if err = sess.StartTransaction(ctx); err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	return bulk.Execute(ctx, ec.Store, sess)
}
