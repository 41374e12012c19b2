package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/service/session"
)

// Listen upgrades to a WebSocket and runs one live session on it. Binary
// frames are audio; a text frame "stop" or {"type":"stop"} ends streaming.
func (h *Handlers) Listen(w http.ResponseWriter, r *http.Request) {
	if !h.app.Ready() {
		http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
		return
	}
	done, ok := h.app.TrackSession()
	defer done()
	if !ok {
		http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
		return
	}

	info := session.ClientInfo{
		TenantID: r.URL.Query().Get("tenant_id"),
		UserID:   r.URL.Query().Get("user_id"),
	}
	if info.TenantID == "" {
		info.TenantID = h.opts.DefaultTenant
	}
	if info.UserID == "" {
		info.UserID = h.opts.DefaultUser
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}
	ws.SetReadLimit(h.opts.MaxFrameBytes)

	conn := newWSConn(ws, h.opts.WriteTimeout)
	h.sessions.Run(h.app.SessionContext(), conn, info)
}

// wsConn adapts a gorilla connection to session.Conn. gorilla allows one
// concurrent writer, so writes are serialized.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadMessage() (session.Message, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return session.Message{}, err
	}
	switch mt {
	case websocket.BinaryMessage:
		return session.Message{Kind: session.MessageAudio, Data: data}, nil
	case websocket.TextMessage:
		if isStop(data) {
			return session.Message{Kind: session.MessageStop}, nil
		}
	}
	return session.Message{Kind: session.MessageOther, Data: data}, nil
}

func (c *wsConn) WriteText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

func (c *wsConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, b)
}

func (c *wsConn) write(mt int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(mt, data)
}

// Close sends a normal closure frame and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func isStop(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if string(trimmed) == "stop" {
		return true
	}
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return false
	}
	return msg.Type == "stop"
}
