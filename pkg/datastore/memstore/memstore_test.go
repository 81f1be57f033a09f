package memstore

import (
	"context"
	"testing"

	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/i5heu/ouroboros-graph/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(id types.ID, name string) datastore.Document {
	return datastore.Document{
		datastore.FieldID:        id.String(),
		datastore.FieldName:      name,
		datastore.FieldArchitype: map[string]any{"value": 1},
		datastore.FieldEdges:     []any{},
	}
}

func begin(t *testing.T, s *Store) datastore.Session {
	t.Helper()
	sess, err := s.StartSession(context.Background())
	require.NoError(t, err)
	require.NoError(t, sess.StartTransaction(context.Background()))
	return sess
}

func TestCommitMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	nodes := s.Collection(types.Node)
	id := types.NewID()

	sess := begin(t, s)
	defer sess.EndSession(ctx)
	require.NoError(t, nodes.BulkWrite(ctx, sess, []datastore.Operation{
		&datastore.InsertOne{Document: newDoc(id, "Person")},
	}, false))

	_, err := nodes.FindOne(ctx, id)
	assert.ErrorIs(t, err, datastore.ErrNotFound, "staged writes are not visible before commit")

	require.NoError(t, sess.CommitTransaction(ctx))
	doc, err := nodes.FindOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Person", doc.String(datastore.FieldName))
	assert.Equal(t, int64(1), doc.Map(datastore.FieldArchitype)["value"])
}

func TestAbortDiscards(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	nodes := s.Collection(types.Node)
	id := types.NewID()

	sess := begin(t, s)
	require.NoError(t, nodes.BulkWrite(ctx, sess, []datastore.Operation{
		&datastore.InsertOne{Document: newDoc(id, "Person")},
	}, false))
	require.NoError(t, sess.AbortTransaction(ctx))
	require.NoError(t, sess.AbortTransaction(ctx), "abort without a transaction is a no-op")
	assert.ErrorIs(t, sess.CommitTransaction(ctx), datastore.ErrNoTransaction)
	assert.Equal(t, 0, s.Count(types.Node))
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	nodes := s.Collection(types.Node)
	a, b := types.NewID(), types.NewID()

	sess := begin(t, s)
	require.NoError(t, nodes.BulkWrite(ctx, sess, []datastore.Operation{
		&datastore.InsertOne{Document: newDoc(a, "A")},
		&datastore.InsertOne{Document: newDoc(b, "B")},
	}, false))
	require.NoError(t, sess.CommitTransaction(ctx))

	require.NoError(t, sess.StartTransaction(ctx))
	del := &datastore.DeleteMany{}
	del.Add(b)
	require.NoError(t, nodes.BulkWrite(ctx, sess, []datastore.Operation{
		&datastore.UpdateOne{ID: a, Update: datastore.Update{
			datastore.OpSet:      {"architype.value": 2},
			datastore.OpAddToSet: {datastore.FieldEdges: map[string]any{datastore.ModEach: []string{"e:GenericEdge:" + b.String()}}},
		}},
		&datastore.UpdateOne{ID: types.NewID(), Update: datastore.Update{datastore.OpSet: {"x": 1}}},
		del,
	}, false))
	require.NoError(t, sess.CommitTransaction(ctx))

	doc, err := nodes.FindOne(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Map(datastore.FieldArchitype)["value"])
	assert.Equal(t, []string{"e:GenericEdge:" + b.String()}, doc.Strings(datastore.FieldEdges))

	_, err = nodes.FindOne(ctx, b)
	assert.ErrorIs(t, err, datastore.ErrNotFound)
	assert.Equal(t, 1, s.Count(types.Node))
}

func TestDuplicateInsert(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	nodes := s.Collection(types.Node)
	id := types.NewID()

	sess := begin(t, s)
	err := nodes.BulkWrite(ctx, sess, []datastore.Operation{
		&datastore.InsertOne{Document: newDoc(id, "A")},
		&datastore.InsertOne{Document: newDoc(id, "A")},
	}, false)
	assert.ErrorIs(t, err, datastore.ErrDuplicateKey)
}

func TestConcurrentCommitConflict(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	nodes := s.Collection(types.Node)
	id := types.NewID()

	seed := begin(t, s)
	require.NoError(t, nodes.BulkWrite(ctx, seed, []datastore.Operation{&datastore.InsertOne{Document: newDoc(id, "A")}}, true))
	require.NoError(t, seed.CommitTransaction(ctx))

	set := func(v int) []datastore.Operation {
		return []datastore.Operation{&datastore.UpdateOne{ID: id, Update: datastore.Update{datastore.OpSet: {"architype.value": v}}}}
	}

	first, second := begin(t, s), begin(t, s)
	require.NoError(t, nodes.BulkWrite(ctx, first, set(10), true))
	require.NoError(t, nodes.BulkWrite(ctx, second, set(20), true))
	require.NoError(t, first.CommitTransaction(ctx))

	err := second.CommitTransaction(ctx)
	require.Error(t, err)
	assert.True(t, datastore.HasErrorLabel(err, datastore.LabelTransientTransaction))

	require.NoError(t, second.AbortTransaction(ctx))
	require.NoError(t, second.StartTransaction(ctx))
	require.NoError(t, nodes.BulkWrite(ctx, second, set(20), true))
	require.NoError(t, second.CommitTransaction(ctx))

	doc, err := nodes.FindOne(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(20), doc.Map(datastore.FieldArchitype)["value"])
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	sess := begin(t, s)
	assert.NotEmpty(t, sess.ID())
	assert.ErrorIs(t, sess.StartTransaction(ctx), datastore.ErrTransactionOpen)

	sess.EndSession(ctx)
	assert.ErrorIs(t, sess.StartTransaction(ctx), datastore.ErrSessionClosed)
	err := s.Collection(types.Node).BulkWrite(ctx, sess, nil, false)
	assert.ErrorIs(t, err, datastore.ErrSessionClosed)

	assert.Nil(t, s.Collection(types.Generic))

	require.NoError(t, s.Close())
	_, err = s.StartSession(ctx)
	assert.ErrorIs(t, err, datastore.ErrSessionClosed)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	edges := s.Collection(types.Edge)
	sess := begin(t, s)
	for i := 0; i < 3; i++ {
		require.NoError(t, edges.BulkWrite(ctx, sess, []datastore.Operation{
			&datastore.InsertOne{Document: newDoc(types.NewID(), "GenericEdge")},
		}, true))
	}
	require.NoError(t, sess.CommitTransaction(ctx))

	var n int
	require.NoError(t, edges.(datastore.Scanner).Scan(ctx, func(datastore.Document) error {
		n++
		return nil
	}))
	assert.Equal(t, 3, n)
}
