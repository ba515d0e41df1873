// Package websocket carries patch envelopes over WebSocket connections.
//
// The server side attaches each connection to an open document: envelopes
// read from the socket are applied to the document's replica, and every
// message the replica flushes is encoded and written back. The client side
// is a Conn that is both an envelope sink for a local replica and a source
// of inbound envelopes for it.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/patch"
	"github.com/aretw0/scenesync/pkg/ports"
	"github.com/aretw0/scenesync/pkg/session"
	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"
)

const defaultWriteTimeout = 5 * time.Second

// Option configures the server handler and client connections.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	buffer       int
	writeTimeout time.Duration
	upgrader     gorilla.Upgrader
	dialer       *gorilla.Dialer
}

func newConfig(opts []Option) config {
	c := config{
		logger:       logging.NewNop(),
		buffer:       64,
		writeTimeout: defaultWriteTimeout,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		dialer: gorilla.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.logger = c.logger.With("component", "websocket")
	return c
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithBuffer sets how many messages a connection may lag behind its document.
func WithBuffer(n int) Option {
	return func(c *config) {
		c.buffer = n
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		c.writeTimeout = d
	}
}

// WithCheckOrigin sets the upgrader origin check. The default accepts
// same-origin requests only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(c *config) {
		c.upgrader.CheckOrigin = fn
	}
}

// WithDialer replaces the client dialer.
func WithDialer(d *gorilla.Dialer) Option {
	return func(c *config) {
		c.dialer = d
	}
}

// Handler upgrades requests and attaches each connection to the document
// named by the "docID" route parameter.
func Handler(docs *session.Manager, opts ...Option) http.Handler {
	cfg := newConfig(opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "docID")
		doc, err := docs.Open(r.Context(), docID)
		if err != nil {
			http.Error(w, fmt.Sprintf("Open error: %v", err), http.StatusInternalServerError)
			return
		}

		ws, err := cfg.upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.logger.Warn("upgrade failed", "doc_id", docID, "err", err)
			return
		}
		serve(r.Context(), ws, doc, cfg)
	})
}

// serve pumps the connection until either side closes it.
func serve(ctx context.Context, ws *gorilla.Conn, doc *session.Document, cfg config) {
	logger := cfg.logger.With("doc_id", doc.ID, "remote", ws.RemoteAddr().String())
	conn := newConn(ws, cfg)
	defer conn.Close()

	events, cancel := doc.Events.Listen(cfg.buffer)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.readLoop(ctx, doc.Replica)
	}()

	logger.Info("websocket peer attached")
	for {
		select {
		case <-done:
			logger.Info("websocket peer detached")
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			env, ok := patch.Encode(msg)
			if !ok {
				continue
			}
			if err := conn.PublishEnvelope(ctx, env); err != nil {
				logger.Warn("write failed", "mutation_id", env.MutationID, "err", err)
				return
			}
		}
	}
}

// Conn is one end of an envelope stream.
type Conn struct {
	ws     *gorilla.Conn
	cfg    config
	logger *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
	done    chan struct{}
}

func newConn(ws *gorilla.Conn, cfg config) *Conn {
	return &Conn{
		ws:     ws,
		cfg:    cfg,
		logger: cfg.logger,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Dial connects to a document endpoint such as ws://host/docs/plant/ws.
// Call Start to begin receiving.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	cfg := newConfig(opts)
	ws, resp, err := cfg.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return newConn(ws, cfg), nil
}

// Start delivers inbound envelopes to h on a background goroutine until
// the connection closes.
func (c *Conn) Start(h ports.EnvelopeHandler) {
	go c.readLoop(context.Background(), h)
}

// Done is closed once the read loop has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// PublishEnvelope implements ports.EnvelopeSink.
func (c *Conn) PublishEnvelope(ctx context.Context, env domain.PatchEnvelope) error {
	select {
	case <-c.closed:
		return domain.ErrClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	deadline := time.Now().Add(c.cfg.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(gorilla.TextMessage, data)
}

func (c *Conn) readLoop(ctx context.Context, h ports.EnvelopeHandler) {
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *gorilla.CloseError
			if !errors.As(err, &ce) {
				select {
				case <-c.closed:
				default:
					c.logger.Debug("read loop stopped", "err", err)
				}
			}
			c.markClosed()
			return
		}
		var env domain.PatchEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed envelope", "err", err)
			continue
		}
		if err := h.HandleEnvelope(ctx, env); err != nil {
			c.logger.Warn("envelope handler failed", "mutation_id", env.MutationID, "err", err)
		}
	}
}

func (c *Conn) markClosed() {
	c.once.Do(func() { close(c.closed) })
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	select {
	case <-c.closed:
		return c.ws.Close()
	default:
	}
	c.markClosed()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(gorilla.CloseMessage,
		gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
