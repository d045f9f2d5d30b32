// Posematch relay
//
// Two players occupy a room and stream pose landmark frames over websockets.
// Each inbound frame is scored against the reference landmarks it carries
// (when present) and relayed to the other occupant as an opponent_pose
// message. Once both occupants hold a score, a game_result naming the winner
// goes out to both.
//
// Behavior notes:
// - Websockets per room and player: /ws/:roomid/:playerid
// - Connections for unknown rooms close with code 4004, strangers with 4003
// - Malformed frames are logged and dropped; the connection stays open
// - A reconnect with the same player id replaces the previous connection
// - Relay is best-effort: clients whose send buffer is full are dropped
// - Disconnects clear the connection and score but never the seat

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Close codes for connect-time rejections.
const (
	closeInvalidPlayer = 4003
	closeRoomNotFound  = 4004
)

// PoseMessage is an inbound frame from a player. Landmarks is the current
// frame; ReferenceLandmarks, when present, triggers a scoring update.
type PoseMessage struct {
	Landmarks          []Landmark `json:"landmarks"`
	ReferenceLandmarks []Landmark `json:"reference_landmarks,omitempty"`
}

// OpponentPoseMessage relays one player's frame to the other occupant.
type OpponentPoseMessage struct {
	Type      string     `json:"type"` // "opponent_pose"
	Landmarks []Landmark `json:"landmarks"`
}

// GameResultMessage is sent to both occupants once both have a score.
type GameResultMessage struct {
	Type     string             `json:"type"` // "game_result"
	WinnerID string             `json:"winner_id"`
	Scores   map[string]float64 `json:"scores"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type poseFrame struct {
	client *Client
	msg    PoseMessage
}

// matchHub serializes all state changes for one room's match: the set of
// live connections and the latest score per player. Everything mutating
// runs through the run loop, one frame at a time, so the both-scored check
// can never race between the two players.
type matchHub struct {
	rm     *RoomManager
	roomID string

	clients map[*Client]bool
	scores  map[string]float64

	register chan *Client
	unreg    chan *Client
	poses    chan poseFrame
	done     chan struct{}

	mu sync.RWMutex

	lastActive time.Time
}

func newMatchHub(rm *RoomManager, roomID string) *matchHub {
	return &matchHub{
		rm:         rm,
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		scores:     make(map[string]float64),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		poses:      make(chan poseFrame),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

func (h *matchHub) run(cfg *Config) {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.lastActive = time.Now()

			// A reconnect replaces the previous connection for this player;
			// the stale one is cut loose so its pumps wind down.
			for existing := range h.clients {
				if existing.playerID == c.playerID {
					delete(h.clients, existing)
					close(existing.send)
				}
			}

			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unreg:
			h.mu.Lock()
			h.lastActive = time.Now()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				delete(h.scores, c.playerID)
			}
			h.mu.Unlock()

		case pf := <-h.poses:
			h.handlePose(cfg, pf)
		}
	}
}

// handlePose processes one inbound frame: score it if it carries a
// reference, announce a result once both occupants are scored, and relay
// the pose to the opponent.
func (h *matchHub) handlePose(cfg *Config, pf poseFrame) {
	// Fetch seat assignments before taking h.mu; the registry lock always
	// comes first (the reaper holds them in that order).
	player1, player2 := h.rm.seats(h.roomID)

	h.mu.Lock()
	defer h.mu.Unlock()

	// A client evicted by a saturated-buffer drop keeps feeding frames
	// until its transport actually closes; those frames no longer belong
	// to the match and must not recreate a score for it.
	if !h.clients[pf.client] {
		return
	}

	h.lastActive = time.Now()

	playerID := pf.client.playerID

	if pf.msg.ReferenceLandmarks != nil {
		h.scores[playerID] = frameScore(pf.msg.Landmarks, pf.msg.ReferenceLandmarks)
	}

	score1, scored1 := h.scores[player1]
	score2, scored2 := h.scores[player2]
	if player1 != "" && player2 != "" && scored1 && scored2 {
		// Strictly greater score wins; an exact tie goes to seat 1.
		winner := player1
		if score2 > score1 {
			winner = player2
		}

		result := GameResultMessage{
			Type:     "game_result",
			WinnerID: winner,
			Scores: map[string]float64{
				player1: score1,
				player2: score2,
			},
		}

		for client := range h.clients {
			select {
			case client.send <- result:
			default:
				h.dropLocked(client)
			}
		}

		logf(cfg, "MATCH: Result in %s: %s wins (%.3f vs %.3f)", h.roomID, winner, score1, score2)
	}

	opponent := player1
	if playerID == player1 {
		opponent = player2
	}
	if opponent == "" {
		return
	}

	relay := OpponentPoseMessage{
		Type:      "opponent_pose",
		Landmarks: pf.msg.Landmarks,
	}

	for client := range h.clients {
		if client.playerID != opponent {
			continue
		}
		select {
		case client.send <- relay:
		default:
			h.dropLocked(client)
		}
	}
}

// dropLocked removes a client whose send buffer is saturated. Assumes h.mu
// is already held.
func (h *matchHub) dropLocked(c *Client) {
	delete(h.clients, c)
	close(c.send)
	delete(h.scores, c.playerID)
}

// closeAll disconnects all clients of this hub and retires its run loop
// (used by the reaper).
func (h *matchHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
	clear(h.scores)

	close(h.done)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// closeWithReason completes the websocket handshake, then closes with a
// rejection code and a human-readable reason.
func closeWithReason(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// serveWebsocket validates the room and player named in the path, then hands
// the connection to the room's hub.
func serveWebsocket(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		playerID := ps.ByName("playerid")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		hub := rm.hub(roomID)
		if hub == nil {
			logf(cfg, "RELAY: Rejected %s: room %s not found", realIP(r), roomID)
			closeWithReason(conn, closeRoomNotFound, "room not found")
			return
		}

		seat, err := rm.seat(roomID, playerID)
		if err != nil || seat == 0 {
			logf(cfg, "RELAY: Rejected %s: invalid player id for room %s", realIP(r), roomID)
			closeWithReason(conn, closeInvalidPlayer, "invalid player id")
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			// Reaped between lookup and registration.
			closeWithReason(conn, closeRoomNotFound, "room not found")
			return
		}

		logf(cfg, "RELAY: Player %s connected to %s (seat %d)", playerID, roomID, seat)

		go client.writePump()
		client.readPump(cfg, hub)
	}
}

func (c *Client) readPump(cfg *Config, h *matchHub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
		logf(cfg, "RELAY: Player %s disconnected from %s", c.playerID, h.roomID)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg PoseMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logf(cfg, "RELAY: Dropped malformed frame from %s in %s: %v", c.playerID, h.roomID, err)
			continue
		}

		if msg.Landmarks == nil {
			logf(cfg, "RELAY: Dropped frame without landmarks from %s in %s", c.playerID, h.roomID)
			continue
		}

		select {
		case h.poses <- poseFrame{client: c, msg: msg}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
