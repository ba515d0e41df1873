package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/scenesync"
	"github.com/aretw0/scenesync/internal/config"
	"github.com/aretw0/scenesync/pkg/adapters/file"
	"github.com/aretw0/scenesync/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/scenesync/pkg/adapters/redis"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/persistence/middleware"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/aretw0/scenesync/pkg/session"
	backend "github.com/redis/go-redis/v9"
)

// stack is the store and, for the redis driver, the client shared by the
// locker and the replication channels.
type stack struct {
	cfg    config.Config
	logger *slog.Logger
	store  ports.SnapshotStore
	client *backend.Client
}

func newStack(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stack, error) {
	s := &stack{cfg: cfg, logger: logger}
	switch cfg.Store.Driver {
	case config.StoreFile:
		s.store = file.New(cfg.Store.Path)
	case config.StoreRedis:
		s.client = backend.NewClient(&backend.Options{Addr: cfg.Redis.Addr})
		if err := s.client.Ping(ctx).Err(); err != nil {
			_ = s.client.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		s.store = redisAdapter.NewFromClient(s.client,
			redisAdapter.WithPrefix(cfg.Redis.Prefix),
			redisAdapter.WithTTL(cfg.Redis.TTL),
		)
	default:
		s.store = memory.NewStore()
	}

	mws := []middleware.Middleware{middleware.NewLoggingMiddleware(logger)}
	active, fallback, err := cfg.Keys()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if active != nil {
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		mws = append(mws, enc)
	}
	s.store = middleware.Chain(s.store, mws...)
	return s, nil
}

// manager builds a session manager. With a redis client, documents are
// locked across processes and every replica publishes to and subscribes
// on its document channel. Raw notification messages go to
// "<channel>:<doc>:events" for consumers that are not replicas.
func (s *stack) manager(hooks domain.Hooks, extra ...scenesync.Option) *session.Manager {
	opts := []session.Option{
		session.WithLogger(s.logger),
		session.WithReplicaOptions(func(docID string) []scenesync.Option {
			ro := []scenesync.Option{
				scenesync.WithNotifyConfig(s.cfg.NotifyConfig()),
				scenesync.WithHistoryLimit(s.cfg.History.Limit),
				scenesync.WithHooks(hooks),
			}
			if s.client != nil {
				ro = append(ro,
					scenesync.WithSink("redis",
						redisAdapter.NewPublisher(s.client, s.channel(docID), redisAdapter.WithLogger(s.logger))),
					scenesync.WithTransports(redisAdapter.NewMessageTransport(s.client, s.channel(docID)+":events")),
				)
			}
			return append(ro, extra...)
		}),
	}
	if s.client != nil {
		opts = append(opts,
			session.WithLocker(redisAdapter.NewLocker(s.client, s.cfg.Redis.Prefix)),
			session.WithAttach(s.attach),
		)
	}
	return session.NewManager(s.store, opts...)
}

func (s *stack) channel(docID string) string {
	return s.cfg.Redis.Channel + ":" + docID
}

func (s *stack) attach(ctx context.Context, doc *session.Document) (func(), error) {
	sub := redisAdapter.NewSubscriber(s.client, s.channel(doc.ID), doc.Replica, redisAdapter.WithLogger(s.logger))
	if err := sub.Start(context.Background()); err != nil {
		return nil, err
	}
	return func() { _ = sub.Close() }, nil
}

func (s *stack) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
