package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/claude-watch/backend/internal/chat"
	"github.com/claude-watch/backend/internal/transcript"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans transcript activity out to connected WebSocket clients.
// A client that cannot keep up with the event stream is disconnected rather
// than allowed to stall the rest.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	store   *chat.Store

	contextWindow int
}

func NewBroadcaster(store *chat.Store, contextWindow int) *Broadcaster {
	return &Broadcaster{
		clients:       make(map[*client]bool),
		store:         store,
		contextWindow: contextWindow,
	}
}

// AddClient registers a connection and sends it a snapshot of the current
// chat history and agent status.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	snapshot := WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Messages: b.store.History(),
			Status:   b.store.Status(),
		},
	}
	data, _ := json.Marshal(snapshot)

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Text(text string) {
	b.broadcast(WSMessage{Type: MsgText, Payload: TextPayload{Text: text}})
}

func (b *Broadcaster) Tool(name string, input map[string]any) {
	b.broadcast(WSMessage{Type: MsgTool, Payload: ToolPayload{Name: name, Input: input}})
}

func (b *Broadcaster) UserMessage(msg chat.Message) {
	b.broadcast(WSMessage{Type: MsgUserMessage, Payload: UserMessagePayload{Message: msg}})
}

func (b *Broadcaster) Usage(u transcript.TokenUsage) {
	b.broadcast(WSMessage{Type: MsgUsage, Payload: usagePayload(u, b.contextWindow)})
}

func (b *Broadcaster) TurnComplete(text string, initiated bool) {
	b.broadcast(WSMessage{Type: MsgTurnComplete, Payload: TurnCompletePayload{Text: text, Initiated: initiated}})
}

func (b *Broadcaster) Status(status chat.AgentStatus) {
	b.broadcast(WSMessage{Type: MsgStatus, Payload: StatusPayload{Status: status}})
}

func (b *Broadcaster) Error(message string) {
	b.broadcast(WSMessage{Type: MsgError, Payload: ErrorPayload{Message: message}})
}

func usagePayload(u transcript.TokenUsage, window int) UsagePayload {
	p := UsagePayload{
		InputTokens:              u.InputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
		OutputTokens:             u.OutputTokens,
		TotalContext:             u.TotalContext(),
		ContextWindow:            window,
	}
	if window > 0 {
		p.Utilization = float64(p.TotalContext) / float64(window)
		if p.Utilization > 1.0 {
			p.Utilization = 1.0
		}
	}
	return p
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
