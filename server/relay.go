package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

// frame is the envelope every relay message travels in.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const (
	evJoinBoard  = "join-board"
	evLeaveBoard = "leave-board"
)

// relayedEvents are the client mutations forwarded to the rest of a board.
var relayedEvents = map[string]bool{
	"card-created": true,
	"card-updated": true,
	"card-deleted": true,
	"list-created": true,
	"list-updated": true,
	"list-deleted": true,
}

// Peer carries locally originated frames to other server instances.
type Peer interface {
	Publish(boardID string, msg []byte) error
}

type subscriber struct {
	send chan []byte
	// rooms is guarded by the hub mutex.
	rooms map[string]struct{}
}

// Hub keeps board rooms and fans frames out to their subscribers. It never
// blocks on a slow subscriber: a full queue drops the frame.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*subscriber]struct{}
	buffer int
	m      *metrics
	log    *slog.Logger
	peer   Peer
}

func NewHub(buffer int, m *metrics, log *slog.Logger) *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{}), buffer: buffer, m: m, log: log}
}

// SetPeer must be called before any connection is served.
func (h *Hub) SetPeer(p Peer) { h.peer = p }

func (h *Hub) newSubscriber() *subscriber {
	return &subscriber{send: make(chan []byte, h.buffer), rooms: map[string]struct{}{}}
}

func (h *Hub) Join(s *subscriber, boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := s.rooms[boardID]; ok {
		return
	}
	if h.rooms[boardID] == nil {
		h.rooms[boardID] = make(map[*subscriber]struct{})
	}
	h.rooms[boardID][s] = struct{}{}
	s.rooms[boardID] = struct{}{}
	h.m.subscribers.Inc()
}

func (h *Hub) Leave(s *subscriber, boardID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(s, boardID)
}

func (h *Hub) leave(s *subscriber, boardID string) {
	if _, ok := s.rooms[boardID]; !ok {
		return
	}
	delete(s.rooms, boardID)
	if room := h.rooms[boardID]; room != nil {
		delete(room, s)
		if len(room) == 0 {
			delete(h.rooms, boardID)
		}
	}
	h.m.subscribers.Dec()
}

// Drop removes s from every room and closes its queue. No frame can be sent
// to s afterwards.
func (h *Hub) Drop(s *subscriber) {
	h.mu.Lock()
	for id := range s.rooms {
		h.leave(s, id)
	}
	h.mu.Unlock()
	close(s.send)
}

func (h *Hub) RoomSize(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[boardID])
}

func (h *Hub) broadcast(boardID string, msg []byte, from *subscriber, origin string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[boardID] {
		if s == from {
			continue
		}
		select {
		case s.send <- msg:
			h.m.relayed.WithLabelValues(origin).Inc()
		default:
			h.m.dropped.Inc()
		}
	}
}

// Handle interprets one frame received from s. Unknown events and frames
// without a board id are ignored.
func (h *Hub) Handle(s *subscriber, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.log.Debug("relay: bad frame", "err", err)
		return
	}
	switch f.Event {
	case evJoinBoard:
		if id := boardIDOf(f.Data); id != "" {
			h.Join(s, id)
		}
	case evLeaveBoard:
		if id := boardIDOf(f.Data); id != "" {
			h.Leave(s, id)
		}
	default:
		if !relayedEvents[f.Event] {
			return
		}
		var body struct {
			BoardID json.RawMessage `json:"boardId"`
		}
		if err := json.Unmarshal(f.Data, &body); err != nil {
			return
		}
		id := boardIDOf(body.BoardID)
		if id == "" {
			return
		}
		h.broadcast(id, raw, s, "local")
		if h.peer != nil {
			if err := h.peer.Publish(id, raw); err != nil {
				h.log.Warn("relay: peer publish", "board", id, "err", err)
			}
		}
	}
}

// Deliver hands a frame from another instance to every local subscriber.
func (h *Hub) Deliver(boardID string, msg []byte) {
	h.broadcast(boardID, msg, nil, "peer")
}

// boardIDOf accepts a board id sent as a string, a number or an object with
// a boardId field, so 7 and "7" name the same room.
func boardIDOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case '{':
		var body struct {
			BoardID json.RawMessage `json:"boardId"`
		}
		if json.Unmarshal(raw, &body) != nil || bytes.HasPrefix(bytes.TrimSpace(body.BoardID), []byte("{")) {
			return ""
		}
		return boardIDOf(body.BoardID)
	default:
		var n json.Number
		if json.Unmarshal(raw, &n) != nil {
			return ""
		}
		return n.String()
	}
}
