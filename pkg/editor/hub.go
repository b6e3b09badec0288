//Package editor streams tracked poses to the browser editors attached to a tracking session
package editor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
	"github.com/chenBenjamin97/pose-tracker/pkg/tracker"
)

const (
	MessagePose     = "pose"
	MessageComplete = "complete"

	writeWait  = 10 * time.Second
	sendBuffer = 64
)

//Message is what editors receive
type Message struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	//Timestamp is the playback position of the pose in seconds, absent for still images
	Timestamp *float64               `json:"timestamp,omitempty"`
	Positions pose.ConvertedPosition `json:"positions,omitempty"`
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

//replaceOldest queues data in place of the oldest pending message, reporting false if the queue never had room
func (c *client) replaceOldest(data []byte) bool {
	for i := 0; i < sendBuffer; i++ {
		select {
		case <-c.send:
		default:
		}

		select {
		case c.send <- data:
			return true
		default:
		}
	}

	return false
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

//Hub fans messages of a session out to every editor connected to it
type Hub struct {
	upgrader websocket.Upgrader
	logger   hclog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{} //session -> editors
}

//NewHub returns an empty hub
func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true //the front end may be served from another origin in development
			},
		},
		logger:  logger,
		clients: make(map[string]map[*client]struct{}),
	}
}

//Serve upgrades the request and attaches the editor to session until it disconnects or the session is closed
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, session string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(session, c)
	h.logger.Debug("editor attached", "session", session, "remote", r.RemoteAddr)

	go h.writeLoop(c)

	//editors do not talk back, reading only notices the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.unregister(session, c)
	h.logger.Debug("editor detached", "session", session, "remote", r.RemoteAddr)

	return nil
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("editor write failed", "error", err)
			c.conn.Close()
			//drain until Serve unregisters the editor
			for range c.send {
			}
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) register(session string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[session] == nil {
		h.clients[session] = make(map[*client]struct{})
	}
	h.clients[session][c] = struct{}{}
}

func (h *Hub) unregister(session string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[session][c]; ok {
		delete(h.clients[session], c)
		if len(h.clients[session]) == 0 {
			delete(h.clients, session)
		}
	}
	c.close()
}

//Editors returns how many editors are attached to session
func (h *Hub) Editors(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[session])
}

//SetPoseFromLandmarks poses the avatar of every editor of session
func (h *Hub) SetPoseFromLandmarks(ctx context.Context, session string, positions pose.ConvertedPosition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return h.broadcast(session, Message{Type: MessagePose, Session: session, Positions: positions})
}

//PublishFrame poses the editors of session with a tracked video frame
func (h *Hub) PublishFrame(ctx context.Context, session string, f tracker.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ts := f.Timestamp.Seconds()

	return h.broadcast(session, Message{Type: MessagePose, Session: session, Timestamp: &ts, Positions: f.Positions})
}

//Complete tells the editors of session that its video ended
func (h *Hub) Complete(session string) error {
	return h.broadcast(session, Message{Type: MessageComplete, Session: session})
}

//Close detaches every editor of session
func (h *Hub) Close(session string) {
	h.mu.Lock()
	clients := h.clients[session]
	delete(h.clients, session)
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func (h *Hub) broadcast(session string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[session] {
		select {
		case c.send <- data:
			continue
		default:
		}

		//a slow editor may lose poses but never the end of the stream
		if msg.Type == MessageComplete && c.replaceOldest(data) {
			h.logger.Warn("editor too slow, dropped a pose for the completion", "session", session)
			continue
		}
		h.logger.Warn("editor too slow, dropping message", "session", session, "type", msg.Type)
	}

	return nil
}
