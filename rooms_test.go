package main

import (
	"errors"
	"sync"
	"testing"
)

func TestCreateRoomThenStatus(t *testing.T) {
	cfg := &Config{}
	rm := newRoomManager(0)

	id := rm.createRoom(cfg)
	if len(id) != 6 {
		t.Fatalf("room code: want 6 characters, got %q", id)
	}

	status, err := rm.status(id)
	if err != nil {
		t.Fatalf("status after create: %v", err)
	}
	if status.RoomID != id {
		t.Errorf("status room id: want %q, got %q", id, status.RoomID)
	}
	if status.Player1Connected || status.Player2Connected {
		t.Errorf("fresh room should have both seats open: %+v", status)
	}
	if !status.IsActive {
		t.Errorf("fresh room should be active: %+v", status)
	}
}

func TestJoinRoomFillsSeatsInOrder(t *testing.T) {
	cfg := &Config{}
	rm := newRoomManager(0)
	id := rm.createRoom(cfg)

	p1, n1, err := rm.joinRoom(id)
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	if n1 != 1 {
		t.Fatalf("first join: want seat 1, got %d", n1)
	}

	p2, n2, err := rm.joinRoom(id)
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if n2 != 2 {
		t.Fatalf("second join: want seat 2, got %d", n2)
	}

	if p1 == p2 {
		t.Fatalf("player ids must be distinct, both %q", p1)
	}

	if _, _, err := rm.joinRoom(id); !errors.Is(err, errRoomFull) {
		t.Fatalf("third join: want errRoomFull, got %v", err)
	}

	status, err := rm.status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Player1Connected || !status.Player2Connected {
		t.Errorf("both seats should be occupied: %+v", status)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	rm := newRoomManager(0)

	if _, _, err := rm.joinRoom("NOPE42"); !errors.Is(err, errRoomNotFound) {
		t.Fatalf("join unknown room: want errRoomNotFound, got %v", err)
	}
	if _, err := rm.status("NOPE42"); !errors.Is(err, errRoomNotFound) {
		t.Fatalf("status unknown room: want errRoomNotFound, got %v", err)
	}
	if _, err := rm.seat("NOPE42", "whoever"); !errors.Is(err, errRoomNotFound) {
		t.Fatalf("seat unknown room: want errRoomNotFound, got %v", err)
	}
}

func TestConcurrentJoinsNeverShareASeat(t *testing.T) {
	cfg := &Config{}
	rm := newRoomManager(0)
	id := rm.createRoom(cfg)

	var wg sync.WaitGroup
	results := make(chan int, 8)
	failures := make(chan error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, n, err := rm.joinRoom(id)
			if err != nil {
				failures <- err
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)
	close(failures)

	seats := make(map[int]int)
	for n := range results {
		seats[n]++
	}
	if seats[1] != 1 || seats[2] != 1 {
		t.Fatalf("want exactly one player per seat, got %v", seats)
	}

	full := 0
	for err := range failures {
		if !errors.Is(err, errRoomFull) {
			t.Fatalf("unexpected join error: %v", err)
		}
		full++
	}
	if full != 6 {
		t.Fatalf("want 6 rejected joins, got %d", full)
	}
}

func TestSeatLookup(t *testing.T) {
	cfg := &Config{}
	rm := newRoomManager(0)
	id := rm.createRoom(cfg)

	p1, _, _ := rm.joinRoom(id)
	p2, _, _ := rm.joinRoom(id)

	if seat, _ := rm.seat(id, p1); seat != 1 {
		t.Errorf("player 1 seat: want 1, got %d", seat)
	}
	if seat, _ := rm.seat(id, p2); seat != 2 {
		t.Errorf("player 2 seat: want 2, got %d", seat)
	}
	if seat, _ := rm.seat(id, "stranger"); seat != 0 {
		t.Errorf("stranger seat: want 0, got %d", seat)
	}
	if seat, _ := rm.seat(id, ""); seat != 0 {
		t.Errorf("empty player id: want 0, got %d", seat)
	}
}

func TestInsertRoomNeverOverwrites(t *testing.T) {
	rm := newRoomManager(0)

	first := &Room{id: "AAAAAA", active: true}
	first.hub = newMatchHub(rm, first.id)
	if !rm.insertRoom(first) {
		t.Fatal("first insert should succeed")
	}

	second := &Room{id: "AAAAAA", active: true}
	second.hub = newMatchHub(rm, second.id)
	if rm.insertRoom(second) {
		t.Fatal("colliding insert should be rejected")
	}

	rm.mu.Lock()
	kept := rm.rooms["AAAAAA"]
	rm.mu.Unlock()
	if kept != first {
		t.Fatal("collision overwrote the live room")
	}
}

func TestRoomCodesAreUnique(t *testing.T) {
	cfg := &Config{}
	rm := newRoomManager(0)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := rm.createRoom(cfg)
		if seen[id] {
			t.Fatalf("duplicate room code %q", id)
		}
		seen[id] = true
	}
}
