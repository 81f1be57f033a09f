package anchor

import (
	"context"
	"fmt"
	"testing"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type Foo struct {
	NodeArchitype
}

func findDoc(t *testing.T, env *testEnv, kind types.AnchorType, id types.ID) datastore.Document {
	t.Helper()
	doc, err := env.store.Collection(kind).FindOne(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func opsOf[T datastore.Operation](ops []datastore.Operation) []T {
	var out []T
	for _, op := range ops {
		if o, ok := op.(T); ok {
			out = append(out, o)
		}
	}
	return out
}

func TestNodeRef_RoundTrip(t *testing.T) {
	env := newTestEnv(t, Definition{Name: "Foo", New: func() Architype { return &Foo{} }})
	ec := env.system()

	n := mustNode(t, ec, &Foo{})
	assert.Equal(t, fmt.Sprintf("n:Foo:%s", n.ID), n.RefID())

	ref, err := NodeRef(n.RefID())
	require.NoError(t, err)
	assert.Equal(t, n.ID, ref.ID)
	assert.Equal(t, "Foo", ref.Name)
	assert.Nil(t, ref.Architype())

	resolved, err := ec.Arena.Resolve(n.RefID())
	require.NoError(t, err)
	assert.Same(t, n, resolved)

	_, err = EdgeRef(n.RefID())
	assert.ErrorIs(t, err, ErrInvalidReference)
	_, err = Ref("x:Foo:" + n.ID.String())
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestNewNode_KindAndBinding(t *testing.T) {
	env := newTestEnv(t)
	ec := env.system()

	_, err := NewNode(ec, &Friend{})
	assert.ErrorIs(t, err, ErrArchitypeKind)

	p := &Person{Name: "alice"}
	n := mustNode(t, ec, p)
	assert.Same(t, n, p.Jac())
	assert.Same(t, n, JacOf(p))
	assert.Equal(t, "Person", n.Name)
	assert.Same(t, n, ec.Arena.Get(n.ID))

	_, err = NewNode(ec, p)
	assert.ErrorIs(t, err, ErrArchitypeBound)
}

func TestAllocate_BindsRoot(t *testing.T) {
	env := newTestEnv(t)
	root := env.newRoot(t)
	ec := env.as(root)

	n := mustNode(t, ec, &Person{})
	assert.Equal(t, root.ID, n.Root)

	sys := mustNode(t, env.system(), &Person{})
	assert.True(t, sys.Root.IsZero())
}

func TestSave_InsertCascade(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := env.newRoot(t)
	ec := env.as(root)

	a := mustNode(t, ec, &Person{Name: "alice", Age: 30})
	b := mustNode(t, ec, &Person{Name: "bob", Age: 40})
	e := connect(t, ec, a, b)

	bulk, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	nodeOps := bulk.Operations[types.Node]
	require.Len(t, nodeOps, 2)
	assert.Len(t, opsOf[*datastore.InsertOne](nodeOps), 2)
	require.Len(t, bulk.Operations[types.Edge], 1)
	assert.IsType(t, &datastore.InsertOne{}, bulk.Operations[types.Edge][0])

	for _, an := range []*Anchor{&a.Anchor, &b.Anchor, &e.Anchor} {
		assert.True(t, an.IsConnected(), an.RefID())
		assert.False(t, an.HasChanges(), an.RefID())
	}

	assert.Equal(t, 3, env.store.Count(types.Node))
	assert.Equal(t, 1, env.store.Count(types.Edge))

	doc := findDoc(t, env, types.Edge, e.ID)
	assert.Equal(t, a.RefID(), doc.String(datastore.FieldSource))
	assert.Equal(t, b.RefID(), doc.String(datastore.FieldTarget))
	assert.Equal(t, false, doc[datastore.FieldIsUndirected])

	doc = findDoc(t, env, types.Node, a.ID)
	assert.Equal(t, []string{e.RefID()}, doc.Strings(datastore.FieldEdges))
	assert.Equal(t, root.ID.String(), doc.String(datastore.FieldRoot))
	assert.Equal(t, "alice", doc.Map(datastore.FieldArchitype)["Name"])
}

func TestSave_NothingQueuedSkipsStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ec := env.system()
	a := mustNode(t, ec, &Person{Name: "alice"})
	_, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	fs := &faultStore{Store: env.store}
	ec.Store = fs
	bulk, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)
	assert.False(t, bulk.HasOperations())
	assert.Zero(t, fs.writes)
	assert.Zero(t, fs.commits)
}

func TestSync_HydratesFromStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := env.newRoot(t)
	ec := env.as(root)

	a := mustNode(t, ec, &Person{Name: "alice", Age: 30})
	b := mustNode(t, ec, &Person{Name: "bob", Age: 40})
	e := connect(t, ec, a, b)
	e.Architype().(*Friend).Weight = 7
	_, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	fresh := env.as(root)
	stub := fresh.Arena.Node(a.Reference())
	require.NotSame(t, a, stub)
	assert.False(t, stub.IsConnected())

	arch, err := stub.Sync(ctx, fresh, nil)
	require.NoError(t, err)
	p, ok := arch.(*Person)
	require.True(t, ok)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, 30, p.Age)
	assert.Same(t, stub, p.Jac())
	assert.True(t, stub.IsConnected())
	assert.Equal(t, root.ID, stub.Root)
	require.Len(t, stub.Edges(), 1)
	assert.Equal(t, e.ID, stub.Edges()[0].ID)

	edge := fresh.Arena.Edge(stub.Edges()[0])
	earch, err := edge.Sync(ctx, fresh, stub)
	require.NoError(t, err)
	assert.Equal(t, 7, earch.(*Friend).Weight)
	assert.Equal(t, a.ID, edge.Source().ID)
	assert.Equal(t, b.ID, edge.Target().ID)

	hash, err := stub.DataHash()
	require.NoError(t, err)
	orig, err := a.DataHash()
	require.NoError(t, err)
	assert.Equal(t, orig, hash)

	// the hash follows the live state, not the last save
	p.Age++
	changed, err := stub.DataHash()
	require.NoError(t, err)
	assert.NotEqual(t, hash, changed)

	missing := fresh.Arena.Node(types.NewRef(types.Node, "Person", types.NewID()))
	arch, err = missing.Sync(ctx, fresh, nil)
	require.NoError(t, err)
	assert.Nil(t, arch)
}

func TestSync_UnknownArchitype(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Definition{Name: "Foo", New: func() Architype { return &Foo{} }})
	ec := env.system()
	n := mustNode(t, ec, &Foo{})
	_, err := n.Save(ctx, ec, nil)
	require.NoError(t, err)

	other := NewExecContext(ContextConfig{Store: env.store, Registry: testRegistry(t), Logger: env.log})
	_, err = other.Arena.Node(n.Reference()).Sync(ctx, other, nil)
	assert.ErrorIs(t, err, ErrUnknownArchitype)
}

func TestUpdate_FieldDiffAndChangesCleared(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := env.newRoot(t)
	ec := env.as(root)

	a := mustNode(t, ec, &Person{Name: "alice", Age: 30})
	_, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	a.Architype().(*Person).Age = 31
	a.Unrestrict(types.Read)
	require.True(t, a.HasChanges())

	bulk, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)
	assert.False(t, a.HasChanges())

	updates := opsOf[*datastore.UpdateOne](bulk.Operations[types.Node])
	require.Len(t, updates, 1)
	set := updates[0].Update[datastore.OpSet]
	assert.Equal(t, int64(31), set["architype.Age"])
	assert.Equal(t, int64(types.Read), set["access.all"])
	assert.NotContains(t, set, "architype.Name")

	doc := findDoc(t, env, types.Node, a.ID)
	age, ok := doc.GetPath("architype.Age")
	require.True(t, ok)
	assert.Equal(t, int64(31), age)
	all, _ := doc.GetPath("access.all")
	assert.Equal(t, int64(0), all)

	// unchanged data produces no further writes
	bulk, err = a.Save(ctx, ec, nil)
	require.NoError(t, err)
	assert.False(t, bulk.HasOperations())
}

func TestUpdate_ChangesAlwaysEmpty(t *testing.T) {
	env := newTestEnv(t)
	ec := env.system()
	rapid.Check(t, func(rt *rapid.T) {
		a := mustNode(t, ec, &Person{})
		a.connected = true
		require.NoError(t, a.syncHash())

		steps := rapid.IntRange(0, 6).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "op") {
			case 0:
				a.Unrestrict(types.AccessLevel(rapid.IntRange(-1, 2).Draw(rt, "level")))
			case 1:
				a.Restrict()
			case 2:
				a.WhitelistRoots(rapid.Bool().Draw(rt, "whitelist"))
			case 3:
				a.Architype().(*Person).Age = rapid.IntRange(0, 100).Draw(rt, "age")
			}
		}

		bulk := newBulkWrite(ec)
		require.NoError(t, update(context.Background(), ec, a, bulk, false))
		if !a.changes.empty() {
			rt.Fatalf("changes not empty after update: %+v", a.changes)
		}
	})
}

func TestUpdate_PullAndAddToSetSplit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := env.newRoot(t)
	ec := env.as(root)

	a := mustNode(t, ec, &Person{Name: "a"})
	b := mustNode(t, ec, &Person{Name: "b"})
	old := connect(t, ec, a, b)
	_, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	c := mustNode(t, ec, &Person{Name: "c"})
	old.Detach(ec)
	fresh := connect(t, ec, a, c)

	bulk, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	var forA []*datastore.UpdateOne
	for _, u := range opsOf[*datastore.UpdateOne](bulk.Operations[types.Node]) {
		if u.ID == a.ID {
			forA = append(forA, u)
		}
	}
	require.Len(t, forA, 2)
	assert.Contains(t, forA[0].Update, datastore.OpPull)
	assert.NotContains(t, forA[0].Update, datastore.OpAddToSet)
	assert.Contains(t, forA[1].Update, datastore.OpAddToSet)
	assert.NotContains(t, forA[1].Update, datastore.OpPull)

	deletes := opsOf[*datastore.DeleteMany](bulk.Operations[types.Edge])
	require.Len(t, deletes, 1)
	assert.Equal(t, []types.ID{old.ID}, deletes[0].IDs)

	doc := findDoc(t, env, types.Node, a.ID)
	assert.Equal(t, []string{fresh.RefID()}, doc.Strings(datastore.FieldEdges))
	_, err = env.store.Collection(types.Edge).FindOne(ctx, old.ID)
	assert.ErrorIs(t, err, datastore.ErrNotFound)
	findDoc(t, env, types.Node, c.ID)

	// b still holds the pending removal until it is saved itself
	assert.True(t, b.HasChanges())
	_, err = b.Save(ctx, ec, nil)
	require.NoError(t, err)
	assert.Empty(t, findDoc(t, env, types.Node, b.ID).Strings(datastore.FieldEdges))
}

func TestUpdate_ConnectAccessKeepsStructureOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.newRoot(t)
	ownerCtx := env.as(owner)

	a := mustNode(t, ownerCtx, &Person{Name: "alice", Age: 30})
	a.Unrestrict(types.Connect)
	_, err := a.Save(ctx, ownerCtx, nil)
	require.NoError(t, err)

	guest := env.newRoot(t)
	guestCtx := env.as(guest)
	shared := guestCtx.Arena.Node(a.Reference())
	arch, err := shared.Sync(ctx, guestCtx, nil)
	require.NoError(t, err)
	require.NotNil(t, arch)
	assert.Equal(t, types.Connect, guestCtx.AccessLevel(shared))

	arch.(*Person).Age = 99
	d := mustNode(t, guestCtx, &Person{Name: "guest"})
	e := connect(t, guestCtx, shared, d)

	_, err = shared.Save(ctx, guestCtx, nil)
	require.NoError(t, err)

	doc := findDoc(t, env, types.Node, a.ID)
	age, _ := doc.GetPath("architype.Age")
	assert.Equal(t, int64(30), age)
	assert.Equal(t, []string{e.RefID()}, doc.Strings(datastore.FieldEdges))
	findDoc(t, env, types.Node, d.ID)
}

func TestSave_ReadAccessWritesNothing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.newRoot(t)
	ownerCtx := env.as(owner)
	a := mustNode(t, ownerCtx, &Person{Name: "alice"})
	a.Unrestrict(types.Read)
	_, err := a.Save(ctx, ownerCtx, nil)
	require.NoError(t, err)

	guestCtx := env.as(env.newRoot(t))
	shared := guestCtx.Arena.Node(a.Reference())
	arch, err := shared.Sync(ctx, guestCtx, nil)
	require.NoError(t, err)
	arch.(*Person).Name = "mallory"

	bulk, err := shared.Save(ctx, guestCtx, nil)
	require.NoError(t, err)
	assert.False(t, bulk.HasOperations())
	assert.Equal(t, "alice", findDoc(t, env, types.Node, a.ID).Map(datastore.FieldArchitype)["Name"])
}

func TestSave_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	fs := &faultStore{Store: env.store, writeFaults: 1, writeLabel: "Fatal"}
	ec := NewExecContext(ContextConfig{Store: fs, Registry: env.reg, Logger: env.log})

	a := mustNode(t, ec, &Person{Name: "alice"})
	_, err := a.Save(ctx, ec, nil)
	require.ErrorIs(t, err, errInjected)
	assert.False(t, a.IsConnected())
	assert.Equal(t, 0, env.store.Count(types.Node))

	_, err = a.Save(ctx, ec, nil)
	require.NoError(t, err)
	assert.True(t, a.IsConnected())
	assert.Equal(t, 1, env.store.Count(types.Node))

	a.Unrestrict(types.Read)
	fs.writeFaults = 1
	_, err = a.Save(ctx, ec, nil)
	require.Error(t, err)
	assert.True(t, a.HasChanges())
	assert.Equal(t, int64(types.Read), a.Changes()[datastore.OpSet]["access.all"])

	_, err = a.Save(ctx, ec, nil)
	require.NoError(t, err)
	all, _ := findDoc(t, env, types.Node, a.ID).GetPath("access.all")
	assert.Equal(t, int64(0), all)
}

func TestNodeDestroy_CascadesEdges(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	root := env.newRoot(t)
	ec := env.as(root)

	a := mustNode(t, ec, &Person{Name: "a"})
	b := mustNode(t, ec, &Person{Name: "b"})
	e := connect(t, ec, a, b)
	_, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	require.NoError(t, a.Destroy(ctx, ec))

	_, err = env.store.Collection(types.Node).FindOne(ctx, a.ID)
	assert.ErrorIs(t, err, datastore.ErrNotFound)
	_, err = env.store.Collection(types.Edge).FindOne(ctx, e.ID)
	assert.ErrorIs(t, err, datastore.ErrNotFound)
	assert.Empty(t, findDoc(t, env, types.Node, b.ID).Strings(datastore.FieldEdges))
	assert.Empty(t, b.Edges())
	assert.False(t, b.HasChanges())
	assert.Nil(t, ec.Arena.Get(a.ID))
	assert.Nil(t, ec.Arena.Get(e.ID))
}

func TestEdgeDestroy_PersistsEndpoints(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ec := env.system()

	a := mustNode(t, ec, &Person{Name: "a"})
	b := mustNode(t, ec, &Person{Name: "b"})
	e := connect(t, ec, a, b)
	_, err := a.Save(ctx, ec, nil)
	require.NoError(t, err)

	require.NoError(t, e.Destroy(ctx, ec))
	assert.Equal(t, 0, env.store.Count(types.Edge))
	assert.Empty(t, findDoc(t, env, types.Node, a.ID).Strings(datastore.FieldEdges))
	assert.Empty(t, findDoc(t, env, types.Node, b.ID).Strings(datastore.FieldEdges))
	assert.True(t, e.Source().IsZero())
	assert.True(t, e.Target().IsZero())
}

func TestDestroy_AccessGates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.newRoot(t)
	ownerCtx := env.as(owner)

	a := mustNode(t, ownerCtx, &Person{Name: "a"})
	b := mustNode(t, ownerCtx, &Person{Name: "b"})
	e := connect(t, ownerCtx, a, b)
	a.Unrestrict(types.Connect)
	e.Unrestrict(types.Connect)
	_, err := a.Save(ctx, ownerCtx, nil)
	require.NoError(t, err)

	guestCtx := env.as(env.newRoot(t))
	na := guestCtx.Arena.Node(a.Reference())
	_, err = na.Sync(ctx, guestCtx, nil)
	require.NoError(t, err)

	// connect access is not enough to delete a node
	require.NoError(t, na.Destroy(ctx, guestCtx))
	findDoc(t, env, types.Node, a.ID)
	findDoc(t, env, types.Edge, e.ID)

	// but it is enough to delete an edge
	ne := guestCtx.Arena.Edge(e.Reference())
	_, err = ne.Sync(ctx, guestCtx, nil)
	require.NoError(t, err)
	require.NoError(t, ne.Destroy(ctx, guestCtx))
	assert.Equal(t, 0, env.store.Count(types.Edge))
	assert.Empty(t, findDoc(t, env, types.Node, a.ID).Strings(datastore.FieldEdges))
}

func TestGenericDestroyPanics(t *testing.T) {
	env := newTestEnv(t)
	ec := env.system()
	obj, err := NewObject(ec, &Note{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, types.Generic, obj.Type())
	assert.Panics(t, func() { _ = obj.Destroy(context.Background(), ec) })

	// generic anchors never reach the store
	bulk, err := obj.Save(context.Background(), ec, nil)
	require.NoError(t, err)
	assert.False(t, bulk.HasOperations())
}

func TestAttachDetach_Linkage(t *testing.T) {
	env := newTestEnv(t)
	rapid.Check(t, func(rt *rapid.T) {
		ec := env.system()
		count := rapid.IntRange(1, 5).Draw(rt, "nodes")
		nodes := make([]*NodeAnchor, count)
		for i := range nodes {
			nodes[i] = mustNode(t, ec, &Person{})
		}

		var attached, detached []*EdgeAnchor
		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			if len(attached) > 0 && rapid.Bool().Draw(rt, "detach") {
				idx := rapid.IntRange(0, len(attached)-1).Draw(rt, "edge")
				e := attached[idx]
				e.Detach(ec)
				attached = append(attached[:idx], attached[idx+1:]...)
				detached = append(detached, e)
				continue
			}
			src := nodes[rapid.IntRange(0, count-1).Draw(rt, "src")]
			trg := nodes[rapid.IntRange(0, count-1).Draw(rt, "trg")]
			e := mustEdge(t, ec, &Friend{})
			e.Attach(src, trg, rapid.Bool().Draw(rt, "undirected"))
			attached = append(attached, e)
		}

		for _, e := range attached {
			for _, n := range nodes {
				endpoint := n.ID == e.Source().ID || n.ID == e.Target().ID
				if n.Edges().Contains(e.ID) != endpoint {
					rt.Fatalf("edge %s listed=%v on %s, endpoint=%v", e.RefID(), !endpoint, n.RefID(), endpoint)
				}
			}
		}
		for _, e := range detached {
			if !e.Source().IsZero() || !e.Target().IsZero() {
				rt.Fatalf("detached edge %s still linked", e.RefID())
			}
			for _, n := range nodes {
				if n.Edges().Contains(e.ID) {
					rt.Fatalf("detached edge %s still listed on %s", e.RefID(), n.RefID())
				}
			}
		}
	})
}

func TestFlush_SavesResidentAnchors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ec := env.system()

	a := mustNode(t, ec, &Person{Name: "a"})
	mustNode(t, ec, &Person{Name: "b"})
	mustWalker(t, ec, &Visitor{})
	keep := mustWalker(t, ec, &Visitor{})
	keep.Persistent = true
	a.Architype().(*Person).Age = 3

	_, err := ec.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.store.Count(types.Node))
	assert.Equal(t, 1, env.store.Count(types.Walker))
	findDoc(t, env, types.Walker, keep.ID)
}
