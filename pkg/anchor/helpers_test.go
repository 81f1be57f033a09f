package anchor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/datastore/memstore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type Person struct {
	NodeArchitype
	Name string
	Age  int
}

type Friend struct {
	EdgeArchitype
	Weight int
}

type Visitor struct {
	WalkerArchitype
	Seen []string
}

type Note struct {
	ObjectArchitype
	Text string
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()
	reg := NewRegistry()
	base := map[string]Definition{
		"Person":  {New: func() Architype { return &Person{} }},
		"Friend":  {New: func() Architype { return &Friend{} }},
		"Visitor": {New: func() Architype { return &Visitor{} }},
	}
	for _, d := range defs {
		base[d.Name] = d
	}
	for name, d := range base {
		d.Name = name
		require.NoError(t, reg.Register(d))
	}
	return reg
}

type testEnv struct {
	store *memstore.Store
	reg   *Registry
	log   *logrus.Logger
}

func newTestEnv(t *testing.T, defs ...Definition) *testEnv {
	t.Helper()
	log := quietLogger()
	return &testEnv{store: memstore.New(log), reg: testRegistry(t, defs...), log: log}
}

// system returns a context without principal, holding full access.
func (env *testEnv) system() *ExecContext {
	return NewExecContext(ContextConfig{Store: env.store, Registry: env.reg, Logger: env.log})
}

// as returns a fresh context acting as root.
func (env *testEnv) as(root *NodeAnchor) *ExecContext {
	return NewExecContext(ContextConfig{Store: env.store, Registry: env.reg, Root: root, Logger: env.log})
}

func (env *testEnv) newRoot(t *testing.T) *NodeAnchor {
	t.Helper()
	root := NewRootNode(types.ID{})
	ec := env.as(root)
	_, err := root.Save(context.Background(), ec, nil)
	require.NoError(t, err)
	return root
}

func mustNode(t *testing.T, ec *ExecContext, arch Architype) *NodeAnchor {
	t.Helper()
	n, err := NewNode(ec, arch)
	require.NoError(t, err)
	return n
}

func mustEdge(t *testing.T, ec *ExecContext, arch Architype) *EdgeAnchor {
	t.Helper()
	e, err := NewEdge(ec, arch)
	require.NoError(t, err)
	return e
}

func mustWalker(t *testing.T, ec *ExecContext, arch Architype) *WalkerAnchor {
	t.Helper()
	w, err := NewWalker(ec, arch)
	require.NoError(t, err)
	return w
}

func connect(t *testing.T, ec *ExecContext, src, trg *NodeAnchor) *EdgeAnchor {
	t.Helper()
	return src.ConnectNode(trg, mustEdge(t, ec, &Friend{}))
}

var errInjected = errors.New("injected fault")

// faultStore fails the first N calls of the selected phase with a labeled
// error and then delegates to the wrapped store.
type faultStore struct {
	datastore.Store

	mu          sync.Mutex
	writeFaults int
	writeLabel  string
	commitFault int
	commitLabel string
	writes      int
	commits     int
	aborts      int
}

func (f *faultStore) Collection(kind types.AnchorType) datastore.Collection {
	c := f.Store.Collection(kind)
	if c == nil {
		return nil
	}
	return &faultCollection{Collection: c, store: f}
}

func (f *faultStore) StartSession(ctx context.Context) (datastore.Session, error) {
	s, err := f.Store.StartSession(ctx)
	if err != nil {
		return nil, err
	}
	return &faultSession{Session: s, store: f}, nil
}

type faultCollection struct {
	datastore.Collection
	store *faultStore
}

func (c *faultCollection) BulkWrite(ctx context.Context, sess datastore.Session, ops []datastore.Operation, ordered bool) error {
	f := c.store
	f.mu.Lock()
	f.writes++
	fail := f.writeFaults > 0
	if fail {
		f.writeFaults--
	}
	f.mu.Unlock()
	if fail {
		return datastore.WithLabels(errInjected, f.writeLabel)
	}
	return c.Collection.BulkWrite(ctx, sess.(*faultSession).Session, ops, ordered)
}

type faultSession struct {
	datastore.Session
	store *faultStore
}

func (s *faultSession) CommitTransaction(ctx context.Context) error {
	f := s.store
	f.mu.Lock()
	f.commits++
	fail := f.commitFault > 0
	if fail {
		f.commitFault--
	}
	f.mu.Unlock()
	if fail {
		return datastore.WithLabels(errInjected, f.commitLabel)
	}
	return s.Session.CommitTransaction(ctx)
}

func (s *faultSession) AbortTransaction(ctx context.Context) error {
	s.store.mu.Lock()
	s.store.aborts++
	s.store.mu.Unlock()
	return s.Session.AbortTransaction(ctx)
}
