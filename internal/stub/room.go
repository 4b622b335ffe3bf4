package stub

// Room groups sockets that joined the same user id.
type Room struct {
	Name    string
	sockets map[*Socket]struct{}
}

// NewRoom constructs a room with no sockets.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		sockets: make(map[*Socket]struct{}),
	}
}

// Add inserts a socket into the room. Returns true if newly added.
func (r *Room) Add(s *Socket) bool {
	if _, exists := r.sockets[s]; exists {
		return false
	}
	r.sockets[s] = struct{}{}
	return true
}

// Remove deletes a socket from the room. Returns true if removed.
func (r *Room) Remove(s *Socket) bool {
	if _, exists := r.sockets[s]; !exists {
		return false
	}
	delete(r.sockets, s)
	return true
}

// Broadcast queues a frame on every socket in the room and returns how
// many accepted it.
func (r *Room) Broadcast(frame string) int {
	delivered := 0
	for s := range r.sockets {
		select {
		case s.out <- frame:
			delivered++
		default:
			// Drop if slow consumer.
		}
	}
	return delivered
}

// Empty returns true if no sockets are in the room.
func (r *Room) Empty() bool {
	return len(r.sockets) == 0
}
