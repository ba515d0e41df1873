package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/ports"
)

type loggingMiddleware struct {
	next   ports.SnapshotStore
	logger *slog.Logger
}

// NewLoggingMiddleware logs every store call at debug level and failures at warn.
func NewLoggingMiddleware(logger *slog.Logger) Middleware {
	logger = logger.With("component", "store")
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &loggingMiddleware{next: next, logger: logger}
	}
}

func (m *loggingMiddleware) log(op, docID string, start time.Time, err error) {
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		m.logger.Warn("store call failed", "op", op, "doc_id", docID, "err", err)
		return
	}
	m.logger.Debug("store call", "op", op, "doc_id", docID, "took", time.Since(start), "found", err == nil)
}

func (m *loggingMiddleware) Save(ctx context.Context, docID string, snap *domain.EntitySnapshot) error {
	start := time.Now()
	err := m.next.Save(ctx, docID, snap)
	m.log("save", docID, start, err)
	return err
}

func (m *loggingMiddleware) Load(ctx context.Context, docID string) (*domain.EntitySnapshot, error) {
	start := time.Now()
	snap, err := m.next.Load(ctx, docID)
	m.log("load", docID, start, err)
	return snap, err
}

func (m *loggingMiddleware) Delete(ctx context.Context, docID string) error {
	start := time.Now()
	err := m.next.Delete(ctx, docID)
	m.log("delete", docID, start, err)
	return err
}

func (m *loggingMiddleware) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := m.next.List(ctx)
	m.log("list", "", start, err)
	return ids, err
}
