// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/anchor_guide/internal/orchestrator"
	"github.com/relabs-tech/anchor_guide/internal/ui"
)

const wsWriteTimeout = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Controller is what the operator console can ask of a session.
type Controller interface {
	QRDetected(node string)
	ButtonPressed(node string)
	Restart()
	Snapshot() orchestrator.Snapshot
}

// WSMessage is sent by the operator console.
type WSMessage struct {
	Action string `json:"action"` // qr, button, restart
	Node   string `json:"node,omitempty"`
}

// WSResponse is pushed to every operator console.
type WSResponse struct {
	Type     string    `json:"type"` // hello, status, server_response, phase, node, nodes, rotation, indicator, error
	Session  string    `json:"session,omitempty"`
	Message  string    `json:"message,omitempty"`
	Phase    string    `json:"phase,omitempty"`
	Node     string    `json:"node,omitempty"`
	Enabled  *bool     `json:"enabled,omitempty"`
	Rotation *float64  `json:"rotation,omitempty"`
	Visible  *bool     `json:"visible,omitempty"`
	State    *ui.State `json:"state,omitempty"`
}

// wsSendBuffer is how many messages a slow console may lag behind before
// new ones are dropped for it.
const wsSendBuffer = 64

type wsClient struct {
	conn *websocket.Conn
	out  chan WSResponse
	done chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, out: make(chan WSResponse, wsSendBuffer), done: make(chan struct{})}
}

// enqueue never blocks. It reports false when the message was dropped.
func (c *wsClient) enqueue(msg WSResponse) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// writeLoop owns all writes to the connection. A failed write closes the
// connection so the read loop ends too.
func (c *wsClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Printf("operator: websocket write error: %v", err)
				c.conn.Close()
				return
			}
		}
	}
}

// Hub fans orchestrator notifications out to connected operator consoles
// and forwards their QR/button actions. It implements ui.Sink.
type Hub struct {
	*ui.StateSink

	ctrl    Controller
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewHub() *Hub {
	return &Hub{StateSink: ui.NewStateSink(), clients: make(map[*wsClient]struct{})}
}

// SetController attaches the session the consoles drive.
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctrl = c
}

func (h *Hub) controller() Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctrl
}

// HandleOperatorWS handles one operator console connection.
func (h *Hub) HandleOperatorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("operator: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := newWSClient(conn)
	hello := WSResponse{Type: "hello"}
	st := h.State()
	hello.State = &st
	if ctrl := h.controller(); ctrl != nil {
		hello.Session = ctrl.Snapshot().SessionID
	}
	c.enqueue(hello)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.done)
		wg.Wait()
	}()

	// Main message loop
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("operator: websocket read error: %v", err)
			return
		}

		ctrl := h.controller()
		if ctrl == nil {
			c.enqueue(WSResponse{Type: "error", Message: "no active session"})
			continue
		}

		switch msg.Action {
		case "qr":
			log.Printf("operator: QR code detected: %s", msg.Node)
			ctrl.QRDetected(msg.Node)
		case "button":
			ctrl.ButtonPressed(msg.Node)
		case "restart":
			log.Println("operator: restart requested")
			ctrl.Restart()
		default:
			c.enqueue(WSResponse{Type: "error", Message: "unknown action " + msg.Action})
		}
	}
}

func (h *Hub) broadcast(msg WSResponse) {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if !c.enqueue(msg) {
			log.Printf("operator: console lagging, dropped %s message", msg.Type)
		}
	}
}

func (h *Hub) Status(text string) {
	h.StateSink.Status(text)
	h.broadcast(WSResponse{Type: "status", Message: text})
}

func (h *Hub) ServerResponse(text string) {
	h.StateSink.ServerResponse(text)
	h.broadcast(WSResponse{Type: "server_response", Message: text})
}

func (h *Hub) Phase(phase string) {
	h.StateSink.Phase(phase)
	h.broadcast(WSResponse{Type: "phase", Phase: phase})
}

func (h *Hub) NodeEnabled(node string, enabled bool) {
	h.StateSink.NodeEnabled(node, enabled)
	h.broadcast(WSResponse{Type: "node", Node: node, Enabled: &enabled})
}

func (h *Hub) AllNodesEnabled(enabled bool) {
	h.StateSink.AllNodesEnabled(enabled)
	h.broadcast(WSResponse{Type: "nodes", Enabled: &enabled})
}

func (h *Hub) IndicatorRotation(degrees float64) {
	h.StateSink.IndicatorRotation(degrees)
	h.broadcast(WSResponse{Type: "rotation", Rotation: &degrees})
}

func (h *Hub) IndicatorVisible(visible bool) {
	h.StateSink.IndicatorVisible(visible)
	h.broadcast(WSResponse{Type: "indicator", Visible: &visible})
}
