package pulse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/rum/runtime/rum/crashcontext"
	"goa.design/rum/runtime/rum/rumcontext"
)

type fakeReplicatedMap struct {
	values map[string]string
	err    error
}

func newFakeReplicatedMap() *fakeReplicatedMap {
	return &fakeReplicatedMap{values: make(map[string]string)}
}

func (m *fakeReplicatedMap) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeReplicatedMap) Set(_ context.Context, key, value string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	prev := m.values[key]
	m.values[key] = value
	return prev, nil
}

func (m *fakeReplicatedMap) Delete(_ context.Context, key string) (string, error) {
	prev := m.values[key]
	delete(m.values, key)
	return prev, nil
}

func TestUpdateAndLoad(t *testing.T) {
	m := newFakeReplicatedMap()
	store, err := newStore(m, "app")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Load(ctx)
	require.ErrorIs(t, err, crashcontext.ErrNotFound)

	state := rumcontext.SessionState{SessionID: "s1", IsInitialSession: true}
	require.NoError(t, store.Update(ctx, state))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, state, got)
	require.JSONEq(t, `{"session_id":"s1","is_initial_session":true,"has_tracked_any_view":false}`, m.values["app"])

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, crashcontext.ErrNotFound)
}

func TestUpdateErrors(t *testing.T) {
	m := newFakeReplicatedMap()
	store, err := newStore(m, "app")
	require.NoError(t, err)
	ctx := context.Background()

	require.Error(t, store.Update(ctx, rumcontext.SessionState{}))
	m.err = errors.New("redis down")
	require.ErrorContains(t, store.Update(ctx, rumcontext.SessionState{SessionID: "s1"}), "redis down")
}

func TestLoadCorruptValue(t *testing.T) {
	m := newFakeReplicatedMap()
	m.values["app"] = "not json"
	store, err := newStore(m, "app")
	require.NoError(t, err)
	_, err = store.Load(context.Background())
	require.ErrorContains(t, err, "unmarshal session state")
}

func TestNewStoreValidation(t *testing.T) {
	_, err := NewStore(nil, "app")
	require.Error(t, err)
	_, err = newStore(newFakeReplicatedMap(), "")
	require.Error(t, err)
}
