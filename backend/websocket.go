// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// wsClient is one websocket connection. It implements PlayerConn; the
// game loops hand it server events and the write pump drains them onto
// the wire. A single connection can take part in several games.
type wsClient struct {
	coord  *Coordinator
	conn   *websocket.Conn
	send   chan ServerEvent
	debugf func(string, ...any)

	// playerId pinned by a verified session token, keyed by gameId.
	pinnedGameID   string
	pinnedPlayerID string

	mu    sync.Mutex
	state ConnState
	games map[string]string // gameId -> playerId this conn joined as
}

// Send queues a server event for the write pump. A full buffer means the
// peer stopped reading; the event is dropped and the error surfaces in
// the game loop's logs.
func (c *wsClient) Send(ev ServerEvent) error {
	select {
	case c.send <- ev:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// State reports the connection state.
func (c *wsClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsClient) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *wsClient) rememberGame(gameID, playerID string) {
	c.mu.Lock()
	c.games[gameID] = playerID
	c.mu.Unlock()
}

func (c *wsClient) joinedGames() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.games))
	for g, p := range c.games {
		out[g] = p
	}
	return out
}

// readPump pumps events from the websocket connection into the
// coordinator. When the read loop ends the connection is considered
// dropped and a disconnect is synthesized for every game it joined.
func (c *wsClient) readPump() {
	defer func() {
		c.setState(ConnClosed)
		c.conn.Close()
		for gameID, playerID := range c.joinedGames() {
			c.coord.ProcessDisconnect(gameID, playerID)
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var ev ClientEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			return
		}
		if err := ValidateClientEvent(&ev); err != nil {
			c.debugf("rejecting event: %v", err)
			continue
		}
		if c.pinnedPlayerID != "" && (ev.GameID == "" || ev.GameID == c.pinnedGameID) {
			ev.GameID = c.pinnedGameID
			ev.PlayerID = c.pinnedPlayerID
		}
		if err := c.coord.ProcessEvent(&ev, c); err != nil {
			log.Printf("Processing event %s for game %s: %v", ev.Type, ev.GameID, err)
			continue
		}
		switch ev.Type {
		case EventCreateGame, EventJoinGame:
			// ProcessEvent assigned ids when the client sent none.
			c.rememberGame(ev.GameID, ev.PlayerID)
		}
	}
}

// writePump pumps server events onto the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
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

// ServeWS handles websocket requests from the peer. A valid session
// token presented at upgrade pins the connection to the playerId it was
// minted for, letting a returning player keep their seat.
func ServeWS(coord *Coordinator, tokens *TokenIssuer, w http.ResponseWriter, r *http.Request, debugf func(string, ...any)) {
	var pinnedGameID, pinnedPlayerID string
	if token := r.URL.Query().Get("token"); token != "" && tokens != nil {
		gameID, playerID, err := tokens.Verify(token)
		if err != nil {
			debugf("session token rejected: %v", err)
		} else {
			pinnedGameID, pinnedPlayerID = gameID, playerID
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &wsClient{
		coord:          coord,
		conn:           conn,
		send:           make(chan ServerEvent, 256),
		debugf:         debugf,
		pinnedGameID:   pinnedGameID,
		pinnedPlayerID: pinnedPlayerID,
		state:          ConnOpen,
		games:          make(map[string]string),
	}
	if pinnedGameID != "" {
		client.rememberGame(pinnedGameID, pinnedPlayerID)
	}

	go client.writePump()
	go client.readPump()
}
