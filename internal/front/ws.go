package front

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cklxx/taskgraph/internal/logging"
)

// PushMessage is one entry of the Core->Front door push channel (spec.md
// §6): task_created, task_updated, task_completed, task_spawned,
// agent_started, agent_thinking, agent_tool_call, agent_tool_result,
// agent_completed, agent_error, step_mode_pause, system_message.
type PushMessage struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	TaskID    int64          `json:"task_id,omitempty"`
	TreeID    int64          `json:"tree_id,omitempty"`
	AgentName string         `json:"agent_name,omitempty"`
	Content   map[string]any `json:"content,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// wsConnection is one subscriber's outbound channel plus its lifecycle,
// grounded on the teacher's old_internal/webui WebSocketConnection (Send
// channel, Done channel, cancellable Context) — subscriptions here are keyed
// by tree id instead of session id, since a client watches one task tree.
type wsConnection struct {
	id     string
	treeID int64 // 0 subscribes to every tree
	send   chan PushMessage
	done   chan struct{}
	cancel context.CancelFunc
}

// Broker fans push messages out to every websocket subscriber whose treeID
// matches (or who asked for all trees), implementing engine.Notifier.
type Broker struct {
	mu     sync.RWMutex
	conns  map[string]*wsConnection
	logger *logging.ComponentLogger

	upgrader websocket.Upgrader
}

// NewBroker builds an empty Broker. Origin checking is permissive (the
// front door has no notion of a browser origin allowlist yet — spec.md §1
// scopes the front door as a reference adapter, not a hardened production
// surface).
func NewBroker() *Broker {
	return &Broker{
		conns:  make(map[string]*wsConnection),
		logger: logging.FrontLogger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Notify implements engine.Notifier, broadcasting to every matching
// subscriber. Non-blocking: when a subscriber's send buffer is full, this
// message is skipped for that subscriber (which stays registered) rather
// than stalling the runtime's event loop.
func (b *Broker) Notify(kind string, taskID, treeID int64, agentName string, content map[string]any) {
	msg := PushMessage{
		ID:        uuid.NewString(),
		Kind:      kind,
		TaskID:    taskID,
		TreeID:    treeID,
		AgentName: agentName,
		Content:   content,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.conns {
		if c.treeID != 0 && c.treeID != treeID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			b.logger.Warn("subscriber %s send buffer full, dropping %s", c.id, kind)
		}
	}
}

// ServeWS upgrades the request and registers a subscriber for treeID (0 for
// every tree), pumping messages until the connection closes.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request, treeID int64) error {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	sub := &wsConnection{
		id:     uuid.NewString(),
		treeID: treeID,
		send:   make(chan PushMessage, 256),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	b.add(sub)
	defer b.remove(sub.id)
	defer cancel()

	go b.readPump(conn, sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.done:
			return nil
		case msg := <-sub.send:
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		}
	}
}

// readPump drains client frames (pings/close) and closes sub.done once a
// read fails; no read deadline is set. The front door expects no
// client->server payloads over this channel.
func (b *Broker) readPump(conn *websocket.Conn, sub *wsConnection) {
	defer close(sub.done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broker) add(c *wsConnection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[c.id] = c
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, id)
}
