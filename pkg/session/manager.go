package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/scenesync"
	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/adapters/memory"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
)

// Document is an open document: its replica and the stream of its
// notification messages for live viewers.
type Document struct {
	ID      string
	Replica *scenesync.Replica
	Events  *memory.Broadcaster

	detach func()
}

// AttachFunc connects an opened document to the outside, e.g. subscribes
// its replica to a broker channel. The returned function undoes it.
type AttachFunc func(ctx context.Context, doc *Document) (detach func(), err error)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager opens, persists and closes documents.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	mu    sync.Mutex            // guards locks and docs
	locks map[string]*lockEntry // per-document locks
	docs  map[string]*Document

	locker      ports.DistributedLocker // optional
	lockTTL     time.Duration
	replicaOpts func(docID string) []scenesync.Option
	attach      AttachFunc
	logger      *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking around persistence.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the lease of distributed locks. Defaults to 30s.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithReplicaOptions sets extra options for every replica the manager opens.
func WithReplicaOptions(fn func(docID string) []scenesync.Option) Option {
	return func(m *Manager) {
		m.replicaOpts = fn
	}
}

// WithAttach runs fn for every document right after it is opened.
func WithAttach(fn AttachFunc) Option {
	return func(m *Manager) {
		m.attach = fn
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a document manager persisting to store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		docs:    make(map[string]*Document),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must lock entry.mu, and call release(docID) after unlocking.
func (m *Manager) acquire(docID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[docID]
	if !exists {
		entry = &lockEntry{}
		m.locks[docID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(docID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[docID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, docID)
	}
}

// Open returns the open document, or opens it from its stored snapshot.
// A document with no snapshot starts empty.
func (m *Manager) Open(ctx context.Context, docID string) (*Document, error) {
	if doc, ok := m.Get(docID); ok {
		return doc, nil
	}

	var doc *Document
	err := m.withLocalLock(docID, func() error {
		if existing, ok := m.Get(docID); ok {
			doc = existing
			return nil
		}

		snap, err := m.store.Load(ctx, docID)
		if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
			return fmt.Errorf("failed to load document %s: %w", docID, err)
		}

		events := memory.NewBroadcaster("events")
		opts := []scenesync.Option{scenesync.WithID(docID), scenesync.WithLogger(m.logger)}
		if m.replicaOpts != nil {
			opts = append(opts, m.replicaOpts(docID)...)
		}
		opts = append(opts, scenesync.WithTransports(events))
		if snap != nil {
			opts = append(opts, scenesync.WithSnapshot(snap))
		}

		r, err := scenesync.New(opts...)
		if err != nil {
			return fmt.Errorf("failed to open document %s: %w", docID, err)
		}
		d := &Document{ID: docID, Replica: r, Events: events}

		if m.attach != nil {
			detach, err := m.attach(ctx, d)
			if err != nil {
				_ = r.Close()
				return fmt.Errorf("failed to attach document %s: %w", docID, err)
			}
			d.detach = detach
		}

		m.mu.Lock()
		m.docs[docID] = d
		m.mu.Unlock()
		m.logger.Info("document opened", "doc_id", docID, "from_snapshot", snap != nil)
		doc = d
		return nil
	})
	return doc, err
}

// Get returns an open document.
func (m *Manager) Get(docID string) (*Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	return d, ok
}

// Opened returns the ids of open documents, sorted.
func (m *Manager) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Persist saves the snapshot of an open document.
func (m *Manager) Persist(ctx context.Context, docID string) error {
	doc, ok := m.Get(docID)
	if !ok {
		return fmt.Errorf("%w: %s is not open", domain.ErrDocumentNotFound, docID)
	}
	return m.WithLock(ctx, docID, func(ctx context.Context) error {
		snap := doc.Replica.Snapshot()
		return m.store.Save(ctx, docID, &snap)
	})
}

// Close persists and closes an open document. Closing a document that is
// not open is a no-op.
func (m *Manager) Close(ctx context.Context, docID string) error {
	doc, ok := m.Get(docID)
	if !ok {
		return nil
	}
	return m.WithLock(ctx, docID, func(ctx context.Context) error {
		if doc.detach != nil {
			doc.detach()
		}
		snap := doc.Replica.Snapshot()
		saveErr := m.store.Save(ctx, docID, &snap)
		closeErr := doc.Replica.Close()

		m.mu.Lock()
		delete(m.docs, docID)
		m.mu.Unlock()
		m.logger.Info("document closed", "doc_id", docID)
		return errors.Join(saveErr, closeErr)
	})
}

// CloseAll closes every open document.
func (m *Manager) CloseAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.Opened() {
		if err := m.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete closes the document without saving and removes its snapshot.
func (m *Manager) Delete(ctx context.Context, docID string) error {
	return m.WithLock(ctx, docID, func(ctx context.Context) error {
		m.mu.Lock()
		doc, ok := m.docs[docID]
		delete(m.docs, docID)
		m.mu.Unlock()
		if ok {
			if doc.detach != nil {
				doc.detach()
			}
			_ = doc.Replica.Close()
		}
		return m.store.Delete(ctx, docID)
	})
}

// List returns the ids of stored documents.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// WithLock executes fn while holding the in-process lock for the document
// and, when configured, its distributed lock.
func (m *Manager) WithLock(ctx context.Context, docID string, fn func(context.Context) error) error {
	return m.withLocalLock(docID, func() error {
		if m.locker != nil {
			unlock, err := m.locker.Lock(ctx, docID, m.lockTTL)
			if err != nil {
				return fmt.Errorf("failed to acquire distributed lock: %w", err)
			}
			defer func() {
				if err := unlock(ctx); err != nil {
					m.logger.Warn("failed to release distributed lock (will expire via TTL)",
						"doc_id", docID,
						"err", err,
					)
				}
			}()
		}
		return fn(ctx)
	})
}

func (m *Manager) withLocalLock(docID string, fn func() error) error {
	entry := m.acquire(docID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(docID)
	}()
	return fn()
}
