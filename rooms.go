package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

var (
	errRoomNotFound = errors.New("room not found")
	errRoomFull     = errors.New("room full")
)

// Room is a two-seat match container. Seats are filled first-come-first-served
// at join time and are never vacated afterwards, even if the occupant's
// connection drops; a player id stays valid for the life of the room.
type Room struct {
	id        string
	player1ID string
	player2ID string
	active    bool
	hub       *matchHub
}

// RoomManager holds the set of live rooms, so each room id is its own
// isolated match session.
type RoomManager struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	idleTimeout time.Duration
}

func newRoomManager(idleTimeout time.Duration) *RoomManager {
	rm := &RoomManager{
		rooms:       make(map[string]*Room),
		idleTimeout: idleTimeout,
	}
	if idleTimeout > 0 {
		go rm.reaperLoop()
	}
	return rm
}

// newRoomCode generates a crypto-random room code. Uniqueness against live
// rooms is checked at insert time.
func newRoomCode() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, 6)
	for i := range out {
		out[i] = letters[int(buf[i])%len(letters)]
	}
	return string(out)
}

// insertRoom adds room under its code unless that code is already live, so
// a colliding code can never overwrite an existing room.
func (rm *RoomManager) insertRoom(room *Room) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, exists := rm.rooms[room.id]; exists {
		return false
	}
	rm.rooms[room.id] = room
	return true
}

func newPlayerID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// createRoom inserts an empty active room and starts its hub, regenerating
// the code on the off chance it collides with a live room.
func (rm *RoomManager) createRoom(cfg *Config) string {
	for {
		room := &Room{
			id:     newRoomCode(),
			active: true,
		}
		room.hub = newMatchHub(rm, room.id)

		if !rm.insertRoom(room) {
			continue
		}

		go room.hub.run(cfg)

		return room.id
	}
}

// joinRoom claims the lowest open seat with a fresh player id. The check and
// the seat write happen under one lock, so two concurrent joins can never be
// handed the same seat.
func (rm *RoomManager) joinRoom(roomID string) (string, int, error) {
	playerID, err := newPlayerID()
	if err != nil {
		return "", 0, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return "", 0, errRoomNotFound
	}

	switch {
	case room.player1ID == "":
		room.player1ID = playerID
		return playerID, 1, nil
	case room.player2ID == "":
		room.player2ID = playerID
		return playerID, 2, nil
	default:
		return "", 0, errRoomFull
	}
}

type roomStatus struct {
	RoomID           string `json:"room_id"`
	Player1Connected bool   `json:"player1_connected"`
	Player2Connected bool   `json:"player2_connected"`
	IsActive         bool   `json:"is_active"`
}

// status reports seat occupancy, not live transport state: a seat claimed by
// a since-disconnected player still counts as connected.
func (rm *RoomManager) status(roomID string) (roomStatus, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return roomStatus{}, errRoomNotFound
	}

	return roomStatus{
		RoomID:           room.id,
		Player1Connected: room.player1ID != "",
		Player2Connected: room.player2ID != "",
		IsActive:         room.active,
	}, nil
}

// seat returns which seat playerID holds in roomID, or 0 for a stranger.
func (rm *RoomManager) seat(roomID, playerID string) (int, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return 0, errRoomNotFound
	}

	switch playerID {
	case "":
		return 0, nil
	case room.player1ID:
		return 1, nil
	case room.player2ID:
		return 2, nil
	}
	return 0, nil
}

// seats returns both occupant ids; empty string for an open seat.
func (rm *RoomManager) seats(roomID string) (string, string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return "", ""
	}
	return room.player1ID, room.player2ID
}

func (rm *RoomManager) hub(roomID string) *matchHub {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return nil
	}
	return room.hub
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout.
func (rm *RoomManager) reaperLoop() {
	ticker := time.NewTicker(rm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-rm.idleTimeout)

		rm.mu.Lock()
		for id, room := range rm.rooms {
			room.hub.mu.RLock()
			last := room.hub.lastActive
			room.hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(rm.rooms, id)
				go room.hub.closeAll()
			}
		}
		rm.mu.Unlock()
	}
}

func serveCreateRoom(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := rm.createRoom(cfg)

		logf(cfg, "ROOMS: Created room %s for %s", id, realIP(r))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)
		_ = json.NewEncoder(w).Encode(struct {
			RoomID string `json:"room_id"`
		}{RoomID: id})
	}
}

func serveJoinRoom(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		playerID, number, err := rm.joinRoom(roomID)
		switch {
		case errors.Is(err, errRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
			return
		case errors.Is(err, errRoomFull):
			http.Error(w, "room full", http.StatusBadRequest)
			return
		case err != nil:
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		logf(cfg, "ROOMS: Player %s joined %s as player %d", playerID, roomID, number)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)
		_ = json.NewEncoder(w).Encode(struct {
			PlayerID     string `json:"player_id"`
			PlayerNumber int    `json:"player_number"`
		}{PlayerID: playerID, PlayerNumber: number})
	}
}

func serveRoomStatus(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		status, err := rm.status(ps.ByName("roomid"))
		if err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// serveRoomPage renders a minimal share page for a room, with its code and
// a QR link for the second player.
func serveRoomPage(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		if _, err := rm.status(roomID); err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Not Found", "No such room.")))
			return
		}

		body := "<h1>Room " + roomID + "</h1>" +
			`<p>Share this code with your opponent, or let them scan the QR code below.</p>` +
			`<img src="` + cfg.prefix + `/room/` + roomID + `/qr" alt="QR code" width="320" height="320">`

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		_, _ = w.Write([]byte(newPage("Room "+roomID, body)))
	}
}

// serveRoomQR generates a PNG QR code for the room's share URL.
func serveRoomQR(cfg *Config, rm *RoomManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")

		if _, err := rm.status(roomID); err != nil {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerMatchRoutes sets up the match-coordination surface:
//   - POST /create-room            → new empty room
//   - POST /join-room/:roomid      → claim a seat, get a player id
//   - GET  /room-status/:roomid    → seat occupancy
//   - GET  /room/:roomid           → HTML share page
//   - GET  /room/:roomid/qr        → PNG QR code for the share URL
//   - GET  /ws/:roomid/:playerid   → pose relay websocket
//   - POST /compare                → movement-cosine sequence scoring
func registerMatchRoutes(cfg *Config, mux *httprouter.Router, rm *RoomManager) {
	mux.POST(cfg.prefix+"/create-room", serveCreateRoom(cfg, rm))

	mux.POST(cfg.prefix+"/join-room/:roomid", serveJoinRoom(cfg, rm))

	mux.GET(cfg.prefix+"/room-status/:roomid", serveRoomStatus(cfg, rm))

	mux.GET(cfg.prefix+"/room/:roomid", serveRoomPage(cfg, rm))

	mux.GET(cfg.prefix+"/room/:roomid/qr", serveRoomQR(cfg, rm))

	mux.GET(cfg.prefix+"/ws/:roomid/:playerid", serveWebsocket(cfg, rm))

	mux.POST(cfg.prefix+"/compare", serveCompare(cfg))
}
