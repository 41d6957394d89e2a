// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const webWriteTimeout = time.Second

// statusSnapshot is the JSON shape served at /api/status.
type statusSnapshot struct {
	NodeConnected bool      `json:"node_connected"`
	ActiveSensors int       `json:"active_sensors"`
	TotalSensors  int       `json:"total_sensors"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Streaming     bool      `json:"streaming"`
	Packets       uint64    `json:"packets"`
}

// webServer is the optional LAN diagnostics surface: a JSON status
// endpoint and a websocket that pushes every stream frame. Slow or dead
// websocket clients are dropped, never waited on.
type webServer struct {
	upgrader websocket.Upgrader
	status   func() statusSnapshot

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// newWebServer starts the HTTP listener, or returns nil when no listen
// address is configured.
func newWebServer(listen string, status func() statusSnapshot) *webServer {
	if listen == "" {
		return nil
	}

	ws := &webServer{
		status:  status,
		clients: make(map[*websocket.Conn]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/ws", ws.handleWS)

	go func() {
		log.Infof("Diagnostics web server listening on %s", listen)
		if err := http.ListenAndServe(listen, mux); err != nil {
			log.Errorf("Web server error: %v", err)
		}
	}()
	return ws
}

func (ws *webServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ws.status()); err != nil {
		log.Debugf("Status encode error: %v", err)
	}
}

func (ws *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	ws.mu.Lock()
	ws.clients[conn] = true
	ws.mu.Unlock()
	log.Infof("Websocket client connected from %s", conn.RemoteAddr())

	// the read pump only exists to notice the close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				ws.drop(conn)
				return
			}
		}
	}()
}

// Broadcast pushes one frame to every connected websocket client.
func (ws *webServer) Broadcast(frame string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for conn := range ws.clients {
		conn.SetWriteDeadline(time.Now().Add(webWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			delete(ws.clients, conn)
			conn.Close()
		}
	}
}

func (ws *webServer) drop(conn *websocket.Conn) {
	ws.mu.Lock()
	delete(ws.clients, conn)
	ws.mu.Unlock()
	conn.Close()
}
