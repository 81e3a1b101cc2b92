// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/noldarim/procbridge/internal/protocol"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	maxMessageSize = 4096
	maxPrompts     = 64
	maxClients     = 256
	sendBuffer     = 64
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
)

// wsClient is one websocket connection. A connection opened with ?clientId= only
// receives job events of that editor client; prompts lists further narrow job
// events to the prompt ids the connection subscribed to. Status events reach
// every connection.
type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu      sync.Mutex
	prompts map[string]struct{}
}

func (c *wsClient) wants(clientID, promptID string) bool {
	if c.clientID != "" && clientID != "" && c.clientID != clientID {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.prompts) == 0 || promptID == "" {
		return true
	}
	_, ok := c.prompts[promptID]
	return ok
}

// wsCommand is a message from a connection: {"type":"subscribe","promptId":"..."}.
type wsCommand struct {
	Type     string `json:"type"`
	PromptID string `json:"promptId"`
}

func (c *wsClient) apply(cmd wsCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Type {
	case "subscribe":
		if len(c.prompts) >= maxPrompts {
			getLog().Warn().Str("client_id", c.clientID).Msg("Websocket prompt subscription limit reached")
			return
		}
		if c.prompts == nil {
			c.prompts = make(map[string]struct{})
		}
		c.prompts[cmd.PromptID] = struct{}{}
	case "unsubscribe":
		delete(c.prompts, cmd.PromptID)
	default:
		getLog().Debug().Str("type", cmd.Type).Msg("Unknown websocket command")
	}
}

// ClientRegistry is the set of open websocket connections.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[*wsClient]struct{})}
}

// Len returns the number of open connections.
func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast queues event on every connection that wants it. A connection whose
// buffer is full misses the event.
func (r *ClientRegistry) Broadcast(event protocol.Event) {
	data, err := marshalEvent(event)
	if err != nil {
		getLog().Error().Err(err).Msg("Failed to encode websocket event")
		return
	}
	clientID, promptID := eventScope(event)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		if !c.wants(clientID, promptID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			getLog().Warn().Str("client_id", c.clientID).Msg("Dropping event for slow websocket client")
		}
	}
}

func (r *ClientRegistry) add(c *wsClient) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) >= maxClients {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

func (r *ClientRegistry) remove(c *wsClient) {
	r.mu.Lock()
	delete(r.clients, c)
	r.mu.Unlock()
}

type scopedEvent interface {
	GetClientID() string
	GetPromptID() string
}

func eventScope(event protocol.Event) (clientID, promptID string) {
	if s, ok := event.(scopedEvent); ok {
		return s.GetClientID(), s.GetPromptID()
	}
	return "", ""
}

type typedEvent interface {
	Type() protocol.EventType
}

// marshalEvent wraps event as {"type": ..., "data": ...}.
func marshalEvent(event protocol.Event) ([]byte, error) {
	kind := fmt.Sprintf("%T", event)
	if te, ok := event.(typedEvent); ok {
		kind = string(te.Type())
	}
	return json.Marshal(struct {
		Type string         `json:"type"`
		Data protocol.Event `json:"data"`
	}{kind, event})
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := lo.Keyify(allowedOrigins)
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[r.Header.Get("Origin")]
			return ok
		},
	}
}

// HandleWebSocket upgrades the request and streams events to it. greeting, when set,
// is sent first so a new connection learns the current queue state.
func HandleWebSocket(registry *ClientRegistry, allowedOrigins []string, greeting func() protocol.Event) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			requestLog(r).Warn().Err(err).Msg("Websocket upgrade failed")
			return
		}

		c := &wsClient{
			conn:     conn,
			send:     make(chan []byte, sendBuffer),
			clientID: r.URL.Query().Get("clientId"),
		}
		if !registry.add(c) {
			requestLog(r).Warn().Msg("Websocket connection limit reached")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
			conn.Close()
			return
		}
		requestLog(r).Debug().Str("client_id", c.clientID).Msg("Websocket connected")

		if greeting != nil {
			if data, err := marshalEvent(greeting()); err == nil {
				c.send <- data
			}
		}

		go c.writeLoop()
		c.readLoop(registry)
	}
}

// readLoop applies commands until the connection fails, then unregisters c and
// stops writeLoop.
func (c *wsClient) readLoop(registry *ClientRegistry) {
	defer func() {
		registry.remove(c)
		close(c.send)
		getLog().Debug().Str("client_id", c.clientID).Msg("Websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd wsCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				getLog().Debug().Err(err).Msg("Invalid websocket command")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				getLog().Warn().Err(err).Msg("Websocket read failed")
			}
			return
		}
		c.apply(cmd)
	}
}

// writeLoop sends queued events and keeps the connection alive with pings. It owns
// closing the connection.
func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
