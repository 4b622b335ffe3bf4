package stub

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/proto"
	"github.com/vovakirdan/chatprobe/internal/socketio"
)

// Hub tracks which sockets joined which user room.
type Hub struct {
	mu        sync.Mutex
	namespace string
	rooms     map[string]*Room
	joined    map[*Socket][]string
	log       *zerolog.Logger
}

// NewHub creates an empty hub for one namespace.
func NewHub(namespace string, logger *zerolog.Logger) *Hub {
	if namespace == "" {
		namespace = socketio.DefaultNamespace
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		namespace: namespace,
		rooms:     make(map[string]*Room),
		joined:    make(map[*Socket][]string),
		log:       logger,
	}
}

// RoomName is the room a user id joins.
func RoomName(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Join subscribes s to a room.
func (h *Hub) Join(s *Socket, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[room]
	if !ok {
		r = NewRoom(room)
		h.rooms[room] = r
	}
	if r.Add(s) {
		h.joined[s] = append(h.joined[s], room)
		h.log.Info().Str("socket_id", s.ID).Str("room", room).Msg("socket joined room")
	}
}

// Leave removes s from every room it joined.
func (h *Hub) Leave(s *Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, name := range h.joined[s] {
		r, ok := h.rooms[name]
		if !ok {
			continue
		}
		r.Remove(s)
		if r.Empty() {
			delete(h.rooms, name)
		}
	}
	delete(h.joined, s)
}

// Members returns how many sockets are in a room.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[room]; ok {
		return len(r.sockets)
	}
	return 0
}

// Emit sends an event to every socket in the user's room and returns the
// number of sockets reached.
func (h *Hub) Emit(userID int64, event string, args ...any) (int, error) {
	pkt, err := socketio.EventPacket(h.namespace, event, args...)
	if err != nil {
		return 0, err
	}
	frame := pkt.Frame()

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[RoomName(userID)]
	if !ok {
		return 0, nil
	}
	return r.Broadcast(frame), nil
}

// Deliver pushes a chat message to a user's room.
func (h *Hub) Deliver(userID int64, msg proto.Message) int {
	n, err := h.Emit(userID, proto.EventReceiveMessage, msg)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to encode message")
		return 0
	}
	return n
}
