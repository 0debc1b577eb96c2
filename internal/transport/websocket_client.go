package transport

import (
	"encoding/json"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"magikcraft/internal/lobby"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound events buffered per client before new ones are dropped.
	sendBufferSize = 256
)

// Hub is what a websocket client talks to.
type Hub interface {
	RegisterTransportClient(tc lobby.ClientSender)
	UnregisterTransportClient(tc lobby.ClientSender)
	HandleClientCommand(tc lobby.ClientSender, clientCommand *lobby.ClientCommand)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient represents a connected user using websockets.
type WebSocketClient struct {
	hub Hub

	conn *websocket.Conn

	// Channel of outbound messages.
	send         chan []byte
	sendIsClosed bool
	mu           sync.Mutex

	// Maximum message size allowed from peer.
	maxMessageSize int64

	id uint64
}

// eventEnvelope is what clients receive: the event type name and the
// event itself.
type eventEnvelope struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

func eventToJSON(event interface{}) ([]byte, error) {
	t := reflect.TypeOf(event)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := ""
	if t != nil {
		name = t.Name()
	}
	return json.Marshal(eventEnvelope{Name: name, Data: event})
}

func (c *WebSocketClient) readLoop() {
	defer func() {
		log.WithField("client", c.ID()).Debug("[Transport] stopping read loop")
		c.Close()
		c.hub.UnregisterTransportClient(c)
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("[Transport] read error")
			}
			break
		}

		var clientCommand lobby.ClientCommand
		if err := json.Unmarshal(message, &clientCommand); err != nil {
			log.WithError(err).Warn("[Transport] json unmarshal error")
		} else {
			c.hub.HandleClientCommand(c, &clientCommand)
		}
	}
}

func (c *WebSocketClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		log.WithField("client", c.ID()).Debug("[Transport] stopping write loop")
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.WithError(err).Warn("[Transport] error getting next writer")
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				log.WithError(err).Warn("[Transport] writer close error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Debug("[Transport] ping write error")
				return
			}
		}
	}
}

// SendEvent queues event for the write loop. Events for a client that
// cannot keep up are dropped.
func (c *WebSocketClient) SendEvent(event interface{}) {
	message, err := eventToJSON(event)
	if err != nil {
		log.WithError(err).Error("[Transport] cannot encode event")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendIsClosed {
		return
	}
	select {
	case c.send <- message:
	default:
		log.WithField("client", c.id).Warn("[Transport] send buffer full, event dropped")
	}
}

func (c *WebSocketClient) ID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *WebSocketClient) SetID(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendIsClosed {
		return
	}

	c.sendIsClosed = true
	close(c.send)

	if err := c.conn.Close(); err != nil {
		log.WithError(err).Debug("[Transport] error closing websocket connection")
	}
}

// ServeWebSocketRequest upgrades the request and attaches the connection
// to hub. Messages larger than maxMessageSize end the connection.
func ServeWebSocketRequest(hub Hub, maxMessageSize int64, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("[Transport] upgrade failed")
		return
	}

	client := &WebSocketClient{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		maxMessageSize: maxMessageSize,
	}
	client.hub.RegisterTransportClient(client)

	go client.writeLoop()
	go client.readLoop()
}
