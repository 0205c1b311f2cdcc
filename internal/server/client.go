// Package server manages individual WebSocket clients, handling read/write
// pumps and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Client represents one WebSocket connection in the chat system. The id is
// the transport-assigned connection handle; it doubles as the identity id
// once the connection logs in and is never reused across reconnects.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	id             string
	addr           string
	closed         bool
	maxMessageSize int64
}

// NewClient creates a new Client for the given connection. The send channel
// is buffered so broadcasts never block the hub on a slow reader.
func NewClient(conn *websocket.Conn, hub *Hub, id, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		id:             id,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// ID returns the transport-assigned connection handle.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing frames.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Frame from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Client %s disconnected: %v", c.addr, err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s connection closed: %v", c.addr, err)
		return true
	}

	log.Printf("WebSocket read error from %s: %v", c.addr, err)
	return true
}

// processFrame decodes one inbound envelope and hands it to the hub for
// serialized execution. Malformed JSON is logged and dropped.
func (c *Client) processFrame(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("Invalid frame from %s: %v", c.addr, err)
		return
	}
	select {
	case c.hub.commands <- command{client: c, envelope: env}:
	case <-c.hub.ctx.Done():
	}
}

func (c *Client) readPump() {
	defer func() {
		// During hub shutdown nobody drains unregister; skip it so the
		// pump goroutine can exit and Shutdown's wait can complete.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
			continue
		}

		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeFrame(frame, ok) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		case <-c.hub.ctx.Done():
			return
		}
	}
}

// closeConnection safely closes the WebSocket connection.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// writeFrame sends one outbound envelope as its own text message and returns
// false when the pump should stop. Frames are never coalesced: each is a
// complete JSON document the client parses independently.
func (c *Client) writeFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error writing close message to %s: %v", c.addr, err)
			}
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing frame to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive.
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
