package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/scenesync"
	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/patch"
	"github.com/aretw0/scenesync/pkg/session"
	"github.com/go-chi/chi/v5"
)

// Server exposes the documents of a session manager over HTTP.
type Server struct {
	Docs   *session.Manager
	logger *slog.Logger
	buffer    int
	mounts    []mount
	docMounts []mount
}

type mount struct {
	pattern string
	handler http.Handler
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStreamBuffer sets how many messages an SSE client may lag behind
// before it starts missing them. Defaults to 64.
func WithStreamBuffer(n int) Option {
	return func(s *Server) {
		s.buffer = n
	}
}

// WithMount adds a handler under pattern, e.g. "/metrics" or a WebSocket endpoint.
func WithMount(pattern string, h http.Handler) Option {
	return func(s *Server) {
		s.mounts = append(s.mounts, mount{pattern: pattern, handler: h})
	}
}

// WithDocMount adds a handler under /docs/{docID}, e.g. "/ws". The handler
// reads the document id with chi.URLParam(r, "docID").
func WithDocMount(pattern string, h http.Handler) Option {
	return func(s *Server) {
		s.docMounts = append(s.docMounts, mount{pattern: pattern, handler: h})
	}
}

// NewHandler creates the HTTP handler.
func NewHandler(docs *session.Manager, opts ...Option) http.Handler {
	s := &Server{
		Docs:   docs,
		logger: logging.NewNop(),
		buffer: 64,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")

	r := chi.NewRouter()
	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/docs", s.ListDocs)
	r.Route("/docs/{docID}", func(r chi.Router) {
		r.Get("/tree", s.GetTree)
		r.Put("/tree", s.PutTree)
		r.Post("/patches", s.PostPatches)
		r.Post("/undo", s.PostUndo)
		r.Post("/redo", s.PostRedo)
		r.Post("/persist", s.PostPersist)
		r.Get("/events", s.SubscribeEvents)
		for _, m := range s.docMounts {
			r.Handle(m.pattern, m.handler)
		}
	})
	for _, m := range s.mounts {
		r.Handle(m.pattern, m.handler)
	}
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "scenesync-http",
		"version": strings.TrimSpace(scenesync.Version),
	}, s.logger)
}

// ListDocs handles GET /docs: stored and open document ids.
func (s *Server) ListDocs(w http.ResponseWriter, r *http.Request) {
	stored, err := s.Docs.List(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("List error: %v", err), http.StatusInternalServerError)
		s.logger.Error("list documents failed", "err", err)
		return
	}
	if stored == nil {
		stored = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"stored": stored,
		"open":   s.Docs.Opened(),
	}, s.logger)
}

// GetTree handles GET /docs/{docID}/tree.
func (s *Server) GetTree(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, doc.Replica.Snapshot(), s.logger)
}

// PutTree handles PUT /docs/{docID}/tree, replacing the whole tree.
func (s *Server) PutTree(w http.ResponseWriter, r *http.Request) {
	var snap domain.EntitySnapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("PutTree: invalid request body", "err", err)
		return
	}
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	if err := doc.Replica.Restore(snap); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidValue) || errors.Is(err, domain.ErrUnknownEntityType) {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("Restore error: %v", err), status)
		return
	}
	writeJSON(w, http.StatusOK, doc.Replica.Snapshot(), s.logger)
}

// PatchResponse reports how an envelope was applied.
type PatchResponse struct {
	MutationID string `json:"mutationId"`
	Duplicate  bool   `json:"duplicate"`
	Applied    int    `json:"applied"`
	Stale      int    `json:"stale"`
	Missing    int    `json:"missing"`
	Invalid    int    `json:"invalid"`
}

func newPatchResponse(res patch.Result) PatchResponse {
	return PatchResponse{
		MutationID: res.MutationID,
		Duplicate:  res.Duplicate,
		Applied:    res.Applied,
		Stale:      res.Stale,
		Missing:    res.Missing,
		Invalid:    res.Invalid,
	}
}

// PostPatches handles POST /docs/{docID}/patches with a patch envelope body.
func (s *Server) PostPatches(w http.ResponseWriter, r *http.Request) {
	var env domain.PatchEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("PostPatches: invalid request body", "err", err)
		return
	}
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	res, err := doc.Replica.Apply(env)
	if err != nil {
		http.Error(w, fmt.Sprintf("Apply error: %v", err), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, newPatchResponse(res), s.logger)
}

// PostUndo handles POST /docs/{docID}/undo.
func (s *Server) PostUndo(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": doc.Replica.Undo()}, s.logger)
}

// PostRedo handles POST /docs/{docID}/redo.
func (s *Server) PostRedo(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.open(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": doc.Replica.Redo()}, s.logger)
}

// PostPersist handles POST /docs/{docID}/persist.
func (s *Server) PostPersist(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if _, ok := s.open(w, r); !ok {
		return
	}
	if err := s.Docs.Persist(r.Context(), docID); err != nil {
		http.Error(w, fmt.Sprintf("Persist error: %v", err), http.StatusInternalServerError)
		s.logger.Error("persist failed", "doc_id", docID, "err", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubscribeEvents handles GET /docs/{docID}/events (SSE). The optional
// "kinds" query parameter is a comma separated list of message kinds to keep.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: streaming not supported")
		return
	}
	doc, ok := s.open(w, r)
	if !ok {
		return
	}

	var kinds map[domain.MessageKind]bool
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		kinds = make(map[domain.MessageKind]bool)
		for _, k := range strings.Split(raw, ",") {
			kinds[domain.MessageKind(strings.TrimSpace(k))] = true
		}
	}

	ch, cancel := doc.Events.Listen(s.buffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("SSE client subscribed", "doc_id", doc.ID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE client disconnected", "doc_id", doc.ID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if kinds != nil && !kinds[msg.Kind] {
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("SSE: cannot encode message", "mutation_id", msg.MutationID, "err", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.MutationID, msg.Kind, data)
			flusher.Flush()
		}
	}
}

func (s *Server) open(w http.ResponseWriter, r *http.Request) (*session.Document, bool) {
	docID := chi.URLParam(r, "docID")
	doc, err := s.Docs.Open(r.Context(), docID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Open error: %v", err), http.StatusInternalServerError)
		s.logger.Error("open document failed", "doc_id", docID, "err", err)
		return nil, false
	}
	return doc, true
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "err", err)
	}
}
