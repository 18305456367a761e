package websocket

import (
	"encoding/json"
	"strconv"
	"time"

	"agranova/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMessage = 4096
)

// Client represents a websocket client connection
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	id    string
	rooms map[string]bool // owned by the hub loop
}

// ID returns the client identifier sent in the welcome message
func (c *Client) ID() string { return c.id }

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithField("client_id", c.id).Warn("websocket read error")
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.log.WithError(err).WithField("client_id", c.id).Debug("websocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes messages received from the client
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.log.WithError(err).WithField("client_id", c.id).Debug("failed to unmarshal client message")
		return
	}

	switch msg.Type {
	case "join":
		if userID := idFrom(msg.Data, "userId"); userID != "" {
			c.hub.Subscribe(c, "user_"+userID)
		}

	case "join_group":
		if groupID := idFrom(msg.Data, "groupId"); groupID != "" {
			c.hub.Subscribe(c, "group_"+groupID)
		}

	case "leave_group":
		if groupID := idFrom(msg.Data, "groupId"); groupID != "" {
			c.hub.Unsubscribe(c, "group_"+groupID)
		}

	case "send_message":
		groupID := idFrom(msg.Data, "groupId")
		if groupID == "" {
			c.reply(models.TopicError, map[string]string{"message": "groupId is required"})
			return
		}
		var payload interface{}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		data := c.hub.encode(models.TopicNewMessage, payload)
		if data == nil {
			return
		}
		c.hub.enqueue(command{
			kind:   cmdRelay,
			client: c,
			msg:    roomMessage{room: "group_" + groupID, topic: models.TopicNewMessage, data: data},
		})

	case "ping":
		c.reply(models.TopicPong, map[string]string{"client_id": c.id})

	default:
		c.hub.log.WithField("client_id", c.id).WithField("type", msg.Type).Debug("unknown client message type")
	}
}

// reply queues a message for this client only, through the hub loop
func (c *Client) reply(topic string, payload interface{}) {
	if data := c.hub.encode(topic, payload); data != nil {
		c.hub.enqueue(command{kind: cmdDirect, client: c, data: data})
	}
}

// idFrom accepts a bare string or number, or an object carrying key
func idFrom(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
