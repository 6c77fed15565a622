package editor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"collabdocs/internal/room"
	"collabdocs/pkg/ot"
)

// Client is one websocket connection: a user editing or watching
// documents. Reads and writes run on dedicated pumps; outbound frames go
// through the buffered send channel.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	svc  *Service

	userID   string
	userName string

	// subs is owned by the hub goroutine.
	subs map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn, svc *Service, userID, userName string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		svc:      svc,
		userID:   userID,
		userName: userName,
		subs:     make(map[string]bool),
	}
}

// readPump reads client frames until the connection drops, then
// unregisters. One reader per connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	cfg := c.svc.cfg.WebSocket
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.svc.logger.Warn("websocket read", "userId", c.userID, "error", err)
			}
			return
		}
		c.processMessage(data)
	}
}

// writePump drains the send channel to the connection and keeps the peer
// alive with periodic pings. One writer per connection.
func (c *Client) writePump() {
	cfg := c.svc.cfg.WebSocket
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", CodeInvalidOperation, "invalid message format")
		return
	}

	ctx := context.Background()
	switch msg.Type {
	case "subscribe":
		c.handleSubscribe(ctx, msg)
	case "operation":
		c.handleOperation(ctx, msg)
	case "cursor":
		c.handleCursor(ctx, msg)
	case "text_update":
		c.handleTextUpdate(ctx, msg)
	case "save_version":
		c.handleSaveVersion(ctx, msg)
	case "revert_version":
		c.handleRevertVersion(ctx, msg)
	case "list_versions":
		c.handleListVersions(ctx, msg)
	case "diff_versions":
		c.handleDiffVersions(ctx, msg)
	case "ping":
		// Keepalive only.
	default:
		c.sendError(msg.DocumentID, CodeInvalidOperation, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe authorizes the destination and registers the client
// for its fanout. Non-cursor destinations also join the document's room.
func (c *Client) handleSubscribe(ctx context.Context, msg Message) {
	documentID, kind, ok := room.ParseDestination(msg.Destination)
	if !ok {
		c.sendError(msg.DocumentID, CodeInvalidOperation, "invalid destination: "+msg.Destination)
		return
	}

	if kind == room.KindCursors {
		if err := c.svc.rooms.Authorize(ctx, documentID, c.userID); err != nil {
			c.replyError(documentID, err)
			return
		}
	} else {
		if err := c.svc.rooms.Join(ctx, documentID, c.userID, c.userName); err != nil {
			c.replyError(documentID, err)
			return
		}
	}
	c.hub.addSubscription(c, msg.Destination)

	// Document subscribers get the current state immediately so they can
	// render before the first broadcast arrives.
	if kind == room.KindDocument || kind == room.KindOperations {
		c.sendDocumentState(ctx, documentID)
	}
}

func (c *Client) handleOperation(ctx context.Context, msg Message) {
	if msg.Operation == nil {
		c.sendError(msg.DocumentID, CodeInvalidOperation, "operation payload missing")
		return
	}
	op := *msg.Operation
	op.UserID = c.userID
	// Operation ids are server-assigned; whatever the client sent is
	// dropped at the boundary.
	op.OperationID = 0
	if op.DocumentID == "" {
		op.DocumentID = msg.DocumentID
	}

	applied, ok, err := c.svc.Submit(ctx, op)
	if err != nil {
		c.replyError(op.DocumentID, err)
		return
	}
	if !ok {
		// Transformed into a no-op; nothing was applied or broadcast.
		return
	}
	c.reply(Reply{Type: "ack", DocumentID: op.DocumentID, Data: applied})
}

func (c *Client) handleCursor(ctx context.Context, msg Message) {
	err := c.svc.rooms.RelayCursor(ctx, room.Cursor{
		UserID:     c.userID,
		DocumentID: msg.DocumentID,
		Position:   msg.Position,
		UserName:   c.userName,
	})
	if err != nil {
		c.replyError(msg.DocumentID, err)
	}
}

// handleTextUpdate serves clients that ship whole content instead of
// operations: the change is reduced to a single insert or delete and fed
// through the same submission path. Content the reduction cannot express
// is rejected rather than guessed at.
func (c *Client) handleTextUpdate(ctx context.Context, msg Message) {
	current, _, err := c.svc.sessions.Content(ctx, msg.DocumentID)
	if err != nil {
		c.replyError(msg.DocumentID, err)
		return
	}
	op := ot.FromContentChange(current, msg.Content, c.userID, msg.DocumentID)
	if op.Type == ot.OpRetain {
		if current != msg.Content {
			c.sendError(msg.DocumentID, CodeInvalidOperation, "content change is not a single insert or delete")
		}
		return
	}
	if _, _, err := c.svc.Submit(ctx, op); err != nil {
		c.replyError(msg.DocumentID, err)
	}
}

func (c *Client) handleSaveVersion(ctx context.Context, msg Message) {
	v, err := c.svc.SaveVersion(ctx, msg.DocumentID, c.userID, msg.Description)
	if err != nil {
		c.replyError(msg.DocumentID, err)
		return
	}
	c.reply(Reply{Type: "version_created", DocumentID: msg.DocumentID, Version: v.VersionNumber, Data: v})
}

func (c *Client) handleRevertVersion(ctx context.Context, msg Message) {
	v, err := c.svc.RevertVersion(ctx, msg.DocumentID, msg.Version, c.userID)
	if err != nil {
		c.replyError(msg.DocumentID, err)
		return
	}
	c.reply(Reply{Type: "version_reverted", DocumentID: msg.DocumentID, Version: v.VersionNumber, Data: v})
	c.sendDocumentState(ctx, msg.DocumentID)
}

func (c *Client) handleListVersions(ctx context.Context, msg Message) {
	versions, err := c.svc.versions.List(ctx, msg.DocumentID)
	if err != nil {
		c.replyError(msg.DocumentID, err)
		return
	}
	c.reply(Reply{Type: "versions", DocumentID: msg.DocumentID, Data: versions})
}

func (c *Client) handleDiffVersions(ctx context.Context, msg Message) {
	res, err := c.svc.versions.Diff(ctx, msg.DocumentID, msg.Version, msg.FromVersion)
	if err != nil {
		c.replyError(msg.DocumentID, err)
		return
	}
	c.reply(Reply{Type: "diff", DocumentID: msg.DocumentID, Data: res})
}

func (c *Client) sendDocumentState(ctx context.Context, documentID string) {
	content, version, err := c.svc.sessions.Content(ctx, documentID)
	if err != nil {
		c.replyError(documentID, err)
		return
	}
	c.reply(Reply{Type: "document_state", DocumentID: documentID, Content: content, Version: version})
}

func (c *Client) reply(r Reply) {
	data, err := encode(r)
	if err != nil {
		c.svc.logger.Error("marshal reply", "type", r.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		// Buffer full; the fanout path will drop the connection.
	}
}

func (c *Client) replyError(documentID string, err error) {
	c.sendError(documentID, errorCode(err), err.Error())
}

func (c *Client) sendError(documentID, code, message string) {
	c.reply(Reply{Type: "error", DocumentID: documentID, Code: code, Error: message})
}
