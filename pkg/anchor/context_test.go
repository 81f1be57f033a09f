package anchor

import (
	"context"
	"testing"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAccessLevel_Resolution(t *testing.T) {
	env := newTestEnv(t)
	owner := NewRootNode(types.ID{})
	guest := NewRootNode(types.ID{})
	ownerCtx := env.as(owner)

	n := mustNode(t, ownerCtx, &Person{})
	guestCtx := NewExecContext(ContextConfig{Store: env.store, Registry: env.reg, Arena: ownerCtx.Arena, Root: guest, Logger: env.log})

	assert.Equal(t, types.Write, env.system().AccessLevel(n))
	assert.Equal(t, types.Write, ownerCtx.AccessLevel(n))
	assert.Equal(t, types.Write, guestCtx.AccessLevel(guest))
	assert.Equal(t, types.NoAccess, guestCtx.AccessLevel(n))

	// the owning root's global level lifts everything it owns
	owner.Unrestrict(types.Read)
	assert.Equal(t, types.Read, guestCtx.AccessLevel(n))
	n.Unrestrict(types.Connect)
	assert.Equal(t, types.Connect, guestCtx.AccessLevel(n))
	owner.Restrict()
	n.Restrict()

	// the owning root's scope applies before the anchor's own scope
	owner.AllowRoot(guest, types.Connect)
	assert.Equal(t, types.Connect, guestCtx.AccessLevel(n))
	owner.DisallowRoot(guest, types.NoAccess)
	assert.Equal(t, types.NoAccess, guestCtx.AccessLevel(n))

	n.AllowRoot(guest, types.Write)
	assert.Equal(t, types.Write, guestCtx.AccessLevel(n))
	assert.True(t, guestCtx.HasReadAccess(nil, n))
	n.DisallowRoot(guest, types.NoAccess)
	assert.False(t, guestCtx.HasReadAccess(nil, n))

	// self access short-circuits
	assert.True(t, guestCtx.HasReadAccess(n, n))
}

func TestPermission_Polarity(t *testing.T) {
	env := newTestEnv(t)
	owner := NewRootNode(types.ID{})
	guest := NewRootNode(types.ID{})
	ownerCtx := env.as(owner)
	n := mustNode(t, ownerCtx, &Person{})
	guestCtx := env.as(guest)

	n.WhitelistRoots(false)
	assert.Equal(t, types.Write, guestCtx.AccessLevel(n))
	assert.Equal(t, false, n.Changes()[datastore.OpSet]["access.roots.whitelist"])

	// under blacklist, disallow holds the principal to a level
	n.DisallowRoot(guest, types.Read)
	assert.Equal(t, types.Read, guestCtx.AccessLevel(n))
	assert.Equal(t, int64(types.Read), n.Changes()[datastore.OpSet]["access.roots.anchors."+guest.RefID()])

	// and allow lifts the restriction again
	n.AllowRoot(guest, types.Read)
	assert.Equal(t, types.Write, guestCtx.AccessLevel(n))
	assert.Contains(t, n.Changes()[datastore.OpUnset], "access.roots.anchors."+guest.RefID())

	n.WhitelistRoots(true)
	assert.Equal(t, types.NoAccess, guestCtx.AccessLevel(n))
	n.AllowRoot(guest, types.Read)
	assert.Equal(t, types.Read, guestCtx.AccessLevel(n))
	n.DisallowRoot(guest, types.Write)
	assert.Equal(t, types.NoAccess, guestCtx.AccessLevel(n))
}

func TestPermission_UnrestrictIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ec := env.system()
	n := mustNode(t, ec, &Person{})
	n.changes = changeSet{}

	n.Unrestrict(types.NoAccess)
	assert.False(t, n.HasChanges())
	n.Restrict()
	assert.False(t, n.HasChanges())
	n.WhitelistRoots(true)
	assert.False(t, n.HasChanges())

	n.Unrestrict(types.AccessLevel(9))
	assert.Equal(t, types.Write, n.Access.All)
	assert.True(t, n.HasChanges())
}

func TestPermission_RestrictUnrestrict(t *testing.T) {
	env := newTestEnv(t)
	owner := NewRootNode(types.ID{})
	ownerCtx := env.as(owner)

	rapid.Check(t, func(rt *rapid.T) {
		n := mustNode(t, ownerCtx, &Person{})
		principals := rapid.IntRange(1, 4).Draw(rt, "principals")

		n.Restrict()
		for i := 0; i < principals; i++ {
			other := env.as(NewRootNode(types.ID{}))
			if other.HasReadAccess(nil, n) {
				rt.Fatalf("restricted anchor visible to %s", other.Root.RefID())
			}
		}
		if !ownerCtx.HasReadAccess(nil, n) {
			rt.Fatalf("restricted anchor hidden from its owner")
		}

		level := types.AccessLevel(rapid.IntRange(0, 2).Draw(rt, "level"))
		n.Unrestrict(level)
		for i := 0; i < principals; i++ {
			other := env.as(NewRootNode(types.ID{}))
			if got := other.AccessLevel(n); got != level {
				rt.Fatalf("level %s after unrestrict(%s)", got, level)
			}
		}
	})
}

func TestSync_AccessDenied(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.newRoot(t)
	ownerCtx := env.as(owner)

	n := mustNode(t, ownerCtx, &Person{Name: "secret"})
	_, err := n.Save(ctx, ownerCtx, nil)
	require.NoError(t, err)

	guest := env.newRoot(t)
	guestCtx := env.as(guest)
	stub := guestCtx.Arena.Node(n.Reference())
	arch, err := stub.Sync(ctx, guestCtx, nil)
	require.NoError(t, err)
	assert.Nil(t, arch)
	assert.False(t, stub.IsConnected())

	// resident anchors are checked too
	shared := NewExecContext(ContextConfig{Store: env.store, Registry: env.reg, Arena: ownerCtx.Arena, Root: guest, Logger: env.log})
	arch, err = n.Sync(ctx, shared, nil)
	require.NoError(t, err)
	assert.Nil(t, arch)

	n.AllowRoot(guest, types.Read)
	arch, err = n.Sync(ctx, shared, nil)
	require.NoError(t, err)
	assert.NotNil(t, arch)

	_, err = n.Save(ctx, ownerCtx, nil)
	require.NoError(t, err)
	fresh := env.as(guest)
	arch, err = fresh.Arena.Node(n.Reference()).Sync(ctx, fresh, nil)
	require.NoError(t, err)
	require.NotNil(t, arch)
	assert.Equal(t, "secret", arch.(*Person).Name)
}

func TestArena_Evict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ec := env.system()
	n := mustNode(t, ec, &Person{Name: "n"})

	assert.False(t, ec.Arena.Evict(n.ID))
	_, err := n.Save(ctx, ec, nil)
	require.NoError(t, err)
	n.Unrestrict(types.Read)
	assert.False(t, ec.Arena.Evict(n.ID))
	_, err = n.Save(ctx, ec, nil)
	require.NoError(t, err)

	assert.True(t, ec.Arena.Evict(n.ID))
	reloaded := ec.Arena.Node(n.Reference())
	assert.NotSame(t, n, reloaded)
	arch, err := reloaded.Sync(ctx, ec, nil)
	require.NoError(t, err)
	assert.Equal(t, "n", arch.(*Person).Name)
	assert.Equal(t, types.Read, reloaded.Access.All)

	ec.Arena.Reset()
	assert.Zero(t, ec.Arena.Len())
}
