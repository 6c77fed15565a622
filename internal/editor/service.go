// Package editor is the websocket transport: it upgrades connections,
// routes client frames into the session, room, and version layers, and
// fans results back out through the hub.
package editor

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"collabdocs/config"
	"collabdocs/internal/room"
	"collabdocs/internal/session"
	"collabdocs/internal/store"
	"collabdocs/internal/version"
	"collabdocs/pkg/ot"
)

// Service wires the collaboration layers behind the websocket endpoint.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.Store
	hub      *Hub
	rooms    *room.Manager
	sessions *session.Manager
	versions *version.Service

	upgrader websocket.Upgrader
}

// NewService assembles the full stack over an opened store.
func NewService(cfg *config.Config, st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	hub := newHub(logger)
	rooms := room.NewManager(st.CanUserEdit, hub, logger)
	sessions := session.NewManager(st, st, hub, logger, cfg.Session.RecentOpsCap)
	sessions.SetPresence(rooms)
	hub.onDisconnect = rooms.Disconnect
	versions := version.NewService(st, sessions, logger)

	return &Service{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		hub:      hub,
		rooms:    rooms,
		sessions: sessions,
		versions: versions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin editors are expected; authorization happens
			// per document, not per origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start launches the hub loop and the idle-session evictor.
func (s *Service) Start(ctx context.Context) {
	go s.hub.run()
	s.sessions.StartEvictor(ctx, time.Minute, s.cfg.Session.IdleEviction)
	s.logger.Info("editor service started")
}

// Shutdown drops every connection and stops the hub.
func (s *Service) Shutdown() {
	s.hub.Shutdown()
	s.logger.Info("editor service stopped")
}

// HandleWebSocket upgrades `/ws?doc=<id>&user=<id>&name=<display>`. The
// user must pass the edit predicate for the initial document before the
// upgrade; further documents are authorized per subscription.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	documentID := r.URL.Query().Get("doc")
	userID := r.URL.Query().Get("user")
	userName := r.URL.Query().Get("name")
	if documentID == "" || userID == "" {
		http.Error(w, "doc and user are required", http.StatusBadRequest)
		return
	}
	if userName == "" {
		userName = "User-" + userID
	}

	if s.hub.ClientCount() >= s.cfg.WebSocket.MaxClients {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	if err := s.rooms.Authorize(r.Context(), documentID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, room.ErrUnauthorized) {
			status = http.StatusForbidden
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "userId", userID, "error", err)
		return
	}

	client := newClient(s.hub, conn, s, userID, userName)
	s.hub.registerClient(client)
	go client.writePump()
	go client.readPump()

	ctx := context.Background()
	if err := s.rooms.Join(ctx, documentID, userID, userName); err != nil {
		s.logger.Warn("join after upgrade failed", "documentId", documentID, "userId", userID, "error", err)
	}
	s.hub.addSubscription(client, room.DestOperations(documentID))
	s.hub.addSubscription(client, room.DestCursors(documentID))
	s.hub.addSubscription(client, room.DestUsers(documentID))
	client.sendDocumentState(ctx, documentID)
}

// Submit authorizes and runs one operation through the session layer.
func (s *Service) Submit(ctx context.Context, op ot.Operation) (ot.Operation, bool, error) {
	if err := s.rooms.Authorize(ctx, op.DocumentID, op.UserID); err != nil {
		return ot.Operation{}, false, err
	}
	return s.sessions.Submit(ctx, op)
}

// SaveVersion snapshots the live content as the next version.
func (s *Service) SaveVersion(ctx context.Context, documentID, userID, description string) (*store.Version, error) {
	if err := s.rooms.Authorize(ctx, documentID, userID); err != nil {
		return nil, err
	}
	content, _, err := s.sessions.Content(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.versions.Create(ctx, documentID, content, userID, description)
}

// RevertVersion restores a prior version and announces the replaced
// content to every subscriber.
func (s *Service) RevertVersion(ctx context.Context, documentID string, targetNumber int, userID string) (*store.Version, error) {
	if err := s.rooms.Authorize(ctx, documentID, userID); err != nil {
		return nil, err
	}
	v, err := s.versions.Revert(ctx, documentID, targetNumber, userID)
	if err != nil {
		return nil, err
	}
	s.hub.Publish(room.DestDocument(documentID), Reply{
		Type:       "document_state",
		DocumentID: documentID,
		Content:    v.Content,
	})
	return v, nil
}

// Versions exposes the version service for HTTP surfaces and tests.
func (s *Service) Versions() *version.Service { return s.versions }

// Sessions exposes the session manager for tests and diagnostics.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// errorCode maps layer errors onto wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidOperation):
		return CodeInvalidOperation
	case errors.Is(err, room.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, version.ErrNoChanges):
		return CodeNoChanges
	default:
		return CodeInternal
	}
}
