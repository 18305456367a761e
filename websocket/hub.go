package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"agranova/metrics"
	"agranova/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const queueSize = 256

type outbound struct {
	topic string
	data  []byte
}

type roomMessage struct {
	room  string
	topic string
	data  []byte
}

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdRelay
	cmdDirect
)

// command is a client-originated operation. All of them travel on one
// channel so a client's join is applied before anything it sends later.
type command struct {
	kind   commandKind
	client *Client
	room   string
	msg    roomMessage
	data   []byte
}

// Hub maintains the set of active clients, their rooms, and fans messages out.
// All hub state is owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	broadcast  chan outbound
	roomcast   chan roomMessage
	commands   chan command
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	clientCount atomic.Int64
	upgrader    websocket.Upgrader
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
}

// NewHub creates a new WebSocket hub. allowedOrigins may contain "*".
func NewHub(allowedOrigins []string, log logrus.FieldLogger, m *metrics.Metrics) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan outbound, queueSize),
		roomcast:   make(chan roomMessage, queueSize),
		commands:   make(chan command, queueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.WithField("component", "websocket"),
		metrics:    m,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(allowedOrigins),
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

// Run starts the hub loop; it returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.removeClient(client)
			}
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.log.WithFields(logrus.Fields{"client_id": client.id, "clients": len(h.clients)}).Info("client registered")

			welcome := h.encode(models.TopicConnection, map[string]string{"status": "connected", "client_id": client.id})
			if welcome != nil {
				h.deliver(client, welcome)
			}

		case client := <-h.unregister:
			h.removeClient(client)

		case cmd := <-h.commands:
			h.apply(cmd)

		case msg := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, msg.data)
			}

		case msg := <-h.roomcast:
			h.fanOutRoom(msg)
		}
	}
}

func (h *Hub) apply(cmd command) {
	if !h.clients[cmd.client] {
		return
	}
	switch cmd.kind {
	case cmdJoin:
		members, ok := h.rooms[cmd.room]
		if !ok {
			members = make(map[*Client]bool)
			h.rooms[cmd.room] = members
		}
		members[cmd.client] = true
		cmd.client.rooms[cmd.room] = true
		h.log.WithFields(logrus.Fields{"client_id": cmd.client.id, "room": cmd.room}).Debug("joined room")

	case cmdLeave:
		h.leave(cmd.client, cmd.room)

	case cmdRelay:
		h.fanOutRoom(cmd.msg)

	case cmdDirect:
		h.deliver(cmd.client, cmd.data)
	}
}

func (h *Hub) fanOutRoom(msg roomMessage) {
	for client := range h.rooms[msg.room] {
		h.deliver(client, msg.data)
	}
}

func (h *Hub) leave(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.rooms, room)
}

// deliver queues data on the client's buffer; a full buffer drops the client
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.WithField("client_id", client.id).Warn("client send buffer full, dropping client")
		h.removeClient(client)
	}
}

func (h *Hub) removeClient(client *Client) {
	if !h.clients[client] {
		return
	}
	for room := range client.rooms {
		h.leave(client, room)
	}
	delete(h.clients, client)
	close(client.send)
	h.setCount()
	h.log.WithFields(logrus.Fields{"client_id": client.id, "clients": len(h.clients)}).Info("client unregistered")
}

func (h *Hub) setCount() {
	h.clientCount.Store(int64(len(h.clients)))
	h.metrics.SetClients(len(h.clients))
}

func (h *Hub) encode(topic string, payload interface{}) []byte {
	msg := models.WebSocketMessage{
		Type:      topic,
		Data:      payload,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("topic", topic).Error("failed to encode push message")
		return nil
	}
	return data
}

// Publish sends payload on topic to every connected client. It never blocks;
// when the hub queue is full the message is dropped.
func (h *Hub) Publish(topic string, payload interface{}) {
	data := h.encode(topic, payload)
	if data == nil {
		return
	}
	select {
	case h.broadcast <- outbound{topic: topic, data: data}:
	default:
		h.log.WithField("topic", topic).Warn("broadcast queue full, dropping message")
		h.metrics.Dropped(topic)
	}
}

// PublishToRoom sends payload on topic to the members of room
func (h *Hub) PublishToRoom(room, topic string, payload interface{}) {
	data := h.encode(topic, payload)
	if data == nil {
		return
	}
	select {
	case h.roomcast <- roomMessage{room: room, topic: topic, data: data}:
	default:
		h.log.WithFields(logrus.Fields{"topic": topic, "room": room}).Warn("room queue full, dropping message")
		h.metrics.Dropped(topic)
	}
}

// Subscribe adds client to room
func (h *Hub) Subscribe(client *Client, room string) {
	h.enqueue(command{kind: cmdJoin, client: client, room: room})
}

// Unsubscribe removes client from room
func (h *Hub) Unsubscribe(client *Client, room string) {
	h.enqueue(command{kind: cmdLeave, client: client, room: room})
}

func (h *Hub) enqueue(cmd command) {
	select {
	case h.commands <- cmd:
	case <-h.done:
	default:
		h.log.WithField("client_id", cmd.client.id).Warn("hub command queue full, dropping client request")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// HandleWebSocket upgrades the request and attaches a new client
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, queueSize),
		id:    uuid.NewString(),
		rooms: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
