package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/scenesync"
	"github.com/aretw0/scenesync/internal/logging"
	"github.com/aretw0/scenesync/pkg/domain"
	"github.com/aretw0/scenesync/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const treeURIPrefix = "scene://tree/"

// DocArgs names the document a tool works on.
type DocArgs struct {
	DocID string `json:"doc_id"`
}

// PatchArgs carries an envelope as a JSON string.
type PatchArgs struct {
	DocID    string `json:"doc_id"`
	Envelope string `json:"envelope"`
}

// PatchResponse reports how an envelope was applied.
type PatchResponse struct {
	MutationID string `json:"mutationId" jsonschema_description:"Mutation id of the envelope"`
	Duplicate  bool   `json:"duplicate" jsonschema_description:"The envelope had already been applied"`
	Applied    int    `json:"applied" jsonschema_description:"Operations applied"`
	Stale      int    `json:"stale" jsonschema_description:"Updates skipped because the local revision is newer"`
	Missing    int    `json:"missing" jsonschema_description:"Operations naming unknown entities"`
	Invalid    int    `json:"invalid" jsonschema_description:"Malformed operations"`
}

// HistoryResponse is the result of undo and redo.
type HistoryResponse struct {
	OK bool `json:"ok" jsonschema_description:"False when there was nothing to undo or redo"`
}

// Server exposes the documents of a session manager as an MCP server.
type Server struct {
	docs      *session.Manager
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(docs *session.Manager, opts ...Option) *Server {
	s := &Server{
		docs:      docs,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("scenesync-mcp", strings.TrimSpace(scenesync.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mcp")
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr (e.g. ":8081") until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+host))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	docID := mcp.WithString("doc_id", mcp.Required(), mcp.Description("Document id"))

	s.mcpServer.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Get the scene tree of a document as an entity snapshot."),
		docID,
	), mcp.NewStructuredToolHandler(s.handleGetTree))

	s.mcpServer.AddTool(mcp.NewTool("apply_patch",
		mcp.WithDescription("Apply a patch envelope ({mutationId, patches}) to a document."),
		docID,
		mcp.WithString("envelope", mcp.Required(), mcp.Description("Patch envelope as a JSON string")),
		mcp.WithOutputSchema[PatchResponse](),
	), mcp.NewStructuredToolHandler(s.handleApplyPatch))

	s.mcpServer.AddTool(mcp.NewTool("undo",
		mcp.WithDescription("Revert the last transaction made through this server."),
		docID,
		mcp.WithOutputSchema[HistoryResponse](),
	), mcp.NewStructuredToolHandler(s.handleUndo))

	s.mcpServer.AddTool(mcp.NewTool("redo",
		mcp.WithDescription("Re-apply the last undone transaction."),
		docID,
		mcp.WithOutputSchema[HistoryResponse](),
	), mcp.NewStructuredToolHandler(s.handleRedo))

	s.mcpServer.AddTool(mcp.NewTool("persist",
		mcp.WithDescription("Save the document snapshot to the store."),
		docID,
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("doc_id", "")
		if err := s.persist(ctx, id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("persisted " + id), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("list_docs",
		mcp.WithDescription("List stored document ids."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := s.docs.List(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) open(ctx context.Context, docID string) (*session.Document, error) {
	if docID == "" {
		return nil, fmt.Errorf("%w: doc_id is required", domain.ErrInvalidValue)
	}
	return s.docs.Open(ctx, docID)
}

func (s *Server) handleGetTree(ctx context.Context, request mcp.CallToolRequest, args DocArgs) (domain.EntitySnapshot, error) {
	doc, err := s.open(ctx, args.DocID)
	if err != nil {
		return domain.EntitySnapshot{}, err
	}
	return doc.Replica.Snapshot(), nil
}

func (s *Server) handleApplyPatch(ctx context.Context, request mcp.CallToolRequest, args PatchArgs) (PatchResponse, error) {
	var env domain.PatchEnvelope
	if err := json.Unmarshal([]byte(args.Envelope), &env); err != nil {
		return PatchResponse{}, fmt.Errorf("%w: envelope: %v", domain.ErrInvalidValue, err)
	}
	doc, err := s.open(ctx, args.DocID)
	if err != nil {
		return PatchResponse{}, err
	}
	res, err := doc.Replica.Apply(env)
	if err != nil {
		return PatchResponse{}, fmt.Errorf("apply failed: %w", err)
	}
	s.logger.Debug("envelope applied", "doc_id", args.DocID, "mutation_id", res.MutationID, "applied", res.Applied)
	return PatchResponse{
		MutationID: res.MutationID,
		Duplicate:  res.Duplicate,
		Applied:    res.Applied,
		Stale:      res.Stale,
		Missing:    res.Missing,
		Invalid:    res.Invalid,
	}, nil
}

func (s *Server) handleUndo(ctx context.Context, request mcp.CallToolRequest, args DocArgs) (HistoryResponse, error) {
	doc, err := s.open(ctx, args.DocID)
	if err != nil {
		return HistoryResponse{}, err
	}
	return HistoryResponse{OK: doc.Replica.Undo()}, nil
}

func (s *Server) handleRedo(ctx context.Context, request mcp.CallToolRequest, args DocArgs) (HistoryResponse, error) {
	doc, err := s.open(ctx, args.DocID)
	if err != nil {
		return HistoryResponse{}, err
	}
	return HistoryResponse{OK: doc.Replica.Redo()}, nil
}

func (s *Server) persist(ctx context.Context, docID string) error {
	if _, err := s.open(ctx, docID); err != nil {
		return err
	}
	return s.docs.Persist(ctx, docID)
}

func (s *Server) registerResources() {
	// EXPOSE: scene://tree/{doc_id}
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(treeURIPrefix+"{doc_id}", "Scene tree",
		mcp.WithTemplateDescription("Entity snapshot of a document"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readTree)
}

func (s *Server) readTree(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	docID, ok := strings.CutPrefix(uri, treeURIPrefix)
	if !ok || docID == "" {
		return nil, errors.New("unknown resource " + uri)
	}
	doc, err := s.open(ctx, docID)
	if err != nil {
		return nil, err
	}
	jsonBytes, err := json.Marshal(doc.Replica.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
