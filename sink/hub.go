/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Comcast/metronome/util"

	"github.com/gorilla/websocket"
)

// Hub is a Sink that broadcasts reports to WebSocket clients.
//
// Hub is also the http.Handler that accepts those clients.  A client
// that can't keep up is disconnected rather than allowed to slow down
// everybody else.
type Hub struct {
	Upgrader websocket.Upgrader

	// WriteTimeout bounds each write to a client.
	WriteTimeout time.Duration

	// Buffer is the number of reports queued per client.
	Buffer int

	sync.Mutex

	clients map[*hubClient]bool
}

type hubClient struct {
	conn *websocket.Conn
	out  chan []byte
	once sync.Once
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.out)
	})
}

// NewHub makes a Hub with no clients.
func NewHub() *Hub {
	return &Hub{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		WriteTimeout: 5 * time.Second,
		Buffer:       16,
		clients:      make(map[*hubClient]bool),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.Lock()
	defer h.Unlock()
	return len(h.clients)
}

// Emit queues the report for every connected client.
func (h *Hub) Emit(ctx context.Context, r *Report) error {
	js, err := json.Marshal(r)
	if err != nil {
		return err
	}

	h.Lock()
	for c := range h.clients {
		select {
		case c.out <- js:
		default:
			util.Logger().Warnf("Hub dropping slow client %s", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
	h.Unlock()

	return nil
}

// ServeHTTP upgrades the connection and streams reports until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		util.Logger().Warnf("Hub upgrade error %v", err)
		return
	}

	c := &hubClient{
		conn: conn,
		out:  make(chan []byte, h.Buffer),
	}

	h.Lock()
	h.clients[c] = true
	h.Unlock()

	util.Logf("Hub client %s connected", conn.RemoteAddr())

	// Reader: we don't want anything from the client, but we
	// need to notice when it leaves.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(c)
				return
			}
		}
	}()

	for js := range c.out {
		if 0 < h.WriteTimeout {
			conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		}
		if err := conn.WriteMessage(websocket.TextMessage, js); err != nil {
			util.Logf("Hub client %s write error %v", conn.RemoteAddr(), err)
			h.remove(c)
			break
		}
	}

	conn.Close()
	util.Logf("Hub client %s gone", conn.RemoteAddr())
}

func (h *Hub) remove(c *hubClient) {
	h.Lock()
	delete(h.clients, c)
	h.Unlock()
	c.close()
}

// Close disconnects all clients.
func (h *Hub) Close() error {
	h.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.Unlock()
	return nil
}
