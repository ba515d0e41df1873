package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/scenesync"
	"github.com/aretw0/scenesync/pkg/adapters/memory"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/notify"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/aretw0/scenesync/pkg/scene"
	"github.com/aretw0/scenesync/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke races if locking is missing.
type SlowStore struct {
	*memory.Store
	loads int
	mu    sync.Mutex
}

func (s *SlowStore) Load(ctx context.Context, docID string) (*domain.EntitySnapshot, error) {
	time.Sleep(10 * time.Millisecond)
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return s.Store.Load(ctx, docID)
}

type recordingLocker struct {
	mu    sync.Mutex
	keys  []string
	held  int
	fails error
}

func (l *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fails != nil {
		return nil, l.fails
	}
	l.keys = append(l.keys, key)
	l.held++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held--
		return nil
	}, nil
}

func immediate(string) []scenesync.Option {
	return []scenesync.Option{scenesync.WithSchedule(notify.ModeImmediate, 0)}
}

func TestManager_OpenConcurrentlyReturnsOneDocument(t *testing.T) {
	store := &SlowStore{Store: memory.NewStore()}
	mgr := session.NewManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	docs := make([]*session.Document, 5)
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := mgr.Open(ctx, "doc")
			assert.NoError(t, err)
			docs[i] = d
		}(i)
	}
	wg.Wait()

	for _, d := range docs {
		assert.Same(t, docs[0], d)
	}
	assert.Equal(t, 1, store.loads)
	assert.Equal(t, []string{"doc"}, mgr.Opened())
	require.NoError(t, mgr.CloseAll(ctx))
}

func TestManager_PersistAndReopen(t *testing.T) {
	store := memory.NewStore()
	locker := &recordingLocker{}
	mgr := session.NewManager(store, session.WithLocker(locker), session.WithReplicaOptions(immediate))
	ctx := context.Background()

	doc, err := mgr.Open(ctx, "plant")
	require.NoError(t, err)
	require.NoError(t, doc.Replica.Do("add", func(d *scene.Document) error {
		g := scene.NewNode(domain.TypeGeometry, "pump")
		g.SetCustom("flow", domain.Number(12))
		d.Root().AddChild(g)
		return nil
	}))
	require.NoError(t, mgr.Persist(ctx, "plant"))

	stored, err := store.Load(ctx, "plant")
	require.NoError(t, err)
	require.Len(t, stored.Children, 1)
	assert.Equal(t, "pump", stored.Children[0].ID)

	require.NoError(t, mgr.Close(ctx, "plant"))
	assert.Empty(t, mgr.Opened())
	require.NoError(t, mgr.Close(ctx, "plant"), "closing twice is a no-op")

	reopened, err := mgr.Open(ctx, "plant")
	require.NoError(t, err)
	var flow domain.Value
	reopened.Replica.View(func(d *scene.Document) {
		flow, _ = d.Find("pump").Custom("flow")
	})
	assert.Equal(t, domain.Number(12), flow)

	assert.Equal(t, []string{"plant", "plant"}, locker.keys)
	assert.Zero(t, locker.held)
}

func TestManager_PersistRequiresOpenDocument(t *testing.T) {
	mgr := session.NewManager(memory.NewStore())
	err := mgr.Persist(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestManager_LockFailure(t *testing.T) {
	boom := errors.New("redis down")
	mgr := session.NewManager(memory.NewStore(), session.WithLocker(&recordingLocker{fails: boom}))
	ctx := context.Background()

	_, err := mgr.Open(ctx, "doc")
	require.NoError(t, err, "opening only takes the local lock")
	assert.ErrorIs(t, mgr.Persist(ctx, "doc"), boom)
}

func TestManager_AttachAndEvents(t *testing.T) {
	var attached, detached int
	mgr := session.NewManager(memory.NewStore(),
		session.WithReplicaOptions(immediate),
		session.WithAttach(func(ctx context.Context, doc *session.Document) (func(), error) {
			attached++
			return func() { detached++ }, nil
		}),
	)
	ctx := context.Background()

	doc, err := mgr.Open(ctx, "doc")
	require.NoError(t, err)
	events, cancel := doc.Events.Listen(4)
	defer cancel()

	require.NoError(t, doc.Replica.Do("add", func(d *scene.Document) error {
		d.Root().AddChild(scene.NewNode(domain.TypeFolder, "f"))
		return nil
	}))
	msg := <-events
	assert.Equal(t, domain.KindNodeChanged, msg.Kind)

	require.NoError(t, mgr.Delete(ctx, "doc"))
	assert.Equal(t, 1, attached)
	assert.Equal(t, 1, detached)
	_, err = mgr.Store().Load(ctx, "doc")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestManager_AttachFailureClosesReplica(t *testing.T) {
	boom := errors.New("subscribe failed")
	mgr := session.NewManager(memory.NewStore(),
		session.WithAttach(func(context.Context, *session.Document) (func(), error) {
			return nil, boom
		}),
	)
	_, err := mgr.Open(context.Background(), "doc")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, mgr.Opened())
}
