package crashcontext_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/rum/runtime/rum/crashcontext"
	"goa.design/rum/runtime/rum/crashcontext/inmem"
	"goa.design/rum/runtime/rum/rumcontext"
)

func TestReporterPersistsLatestState(t *testing.T) {
	store := inmem.New()
	r := crashcontext.NewReporter(store, nil)
	ctx := context.Background()

	r.UpdateSessionState(ctx, rumcontext.SessionState{SessionID: "s1", IsInitialSession: true})
	r.UpdateSessionState(ctx, rumcontext.SessionState{SessionID: "s1", IsInitialSession: true, HasTrackedAnyView: true})
	require.NoError(t, r.Close(ctx))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, got.HasTrackedAnyView)
	require.Equal(t, "s1", got.SessionID)
}

func TestReporterIgnoresUpdatesAfterClose(t *testing.T) {
	store := inmem.New()
	r := crashcontext.NewReporter(store, nil)
	ctx := context.Background()
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))

	r.UpdateSessionState(ctx, rumcontext.SessionState{SessionID: "late"})
	_, err := store.Load(ctx)
	require.ErrorIs(t, err, crashcontext.ErrNotFound)
}

func TestReporterCoalescesWhileStoreIsBusy(t *testing.T) {
	store := &blockingStore{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	r := crashcontext.NewReporter(store, nil)
	ctx := context.Background()

	r.UpdateSessionState(ctx, rumcontext.SessionState{SessionID: "s1"})
	<-store.entered
	for _, id := range []string{"s2", "s3", "s4"} {
		r.UpdateSessionState(ctx, rumcontext.SessionState{SessionID: id})
	}
	close(store.release)
	require.NoError(t, r.Close(ctx))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, "s1", store.written[0])
	require.Equal(t, "s4", store.written[len(store.written)-1])
	require.LessOrEqual(t, len(store.written), 3)
}

func TestReporterSurvivesStoreErrors(t *testing.T) {
	r := crashcontext.NewReporter(failingStore{}, nil)
	r.UpdateSessionState(context.Background(), rumcontext.SessionState{SessionID: "s1"})
	require.NoError(t, r.Close(context.Background()))
}

type blockingStore struct {
	mu      sync.Mutex
	written []string
	release chan struct{}
	entered chan struct{}
}

func (s *blockingStore) Update(_ context.Context, state rumcontext.SessionState) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	s.mu.Lock()
	s.written = append(s.written, state.SessionID)
	s.mu.Unlock()
	return nil
}

func (s *blockingStore) Load(context.Context) (rumcontext.SessionState, error) {
	return rumcontext.SessionState{}, crashcontext.ErrNotFound
}

type failingStore struct{}

func (failingStore) Update(context.Context, rumcontext.SessionState) error {
	return errors.New("disk full")
}

func (failingStore) Load(context.Context) (rumcontext.SessionState, error) {
	return rumcontext.SessionState{}, crashcontext.ErrNotFound
}
