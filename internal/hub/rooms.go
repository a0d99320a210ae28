package hub

import "sync"

// RoomIndex maps room names to member sets. Rooms are created lazily on first
// join and deleted when the last member leaves, so an abandoned topic never
// lingers in memory. The index holds only session ids; the registry owns the
// sessions themselves.
type RoomIndex struct {
	mu      sync.RWMutex
	members map[string]map[string]struct{} // room -> session ids
	joined  map[string]map[string]struct{} // session id -> rooms
}

// NewRoomIndex creates an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds the session to the room, creating the room if absent. Joining a
// room twice is a no-op.
func (idx *RoomIndex) Join(sessionID, room string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.members[room] == nil {
		idx.members[room] = make(map[string]struct{})
	}
	idx.members[room][sessionID] = struct{}{}

	if idx.joined[sessionID] == nil {
		idx.joined[sessionID] = make(map[string]struct{})
	}
	idx.joined[sessionID][room] = struct{}{}
}

// Leave removes the session from the room. When the member set becomes empty
// the room entry is deleted entirely. Leaving a room the session never joined
// is a no-op.
func (idx *RoomIndex) Leave(sessionID, room string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.leaveLocked(sessionID, room)
}

func (idx *RoomIndex) leaveLocked(sessionID, room string) {
	if members, ok := idx.members[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(idx.members, room)
		}
	}
	if rooms, ok := idx.joined[sessionID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(idx.joined, sessionID)
		}
	}
}

// MembersOf returns a copy of the room's member set. The snapshot is taken at
// call time: members who join afterwards do not appear, which is the
// documented fan-out semantics (late joiners miss in-flight broadcasts).
func (idx *RoomIndex) MembersOf(room string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	members, ok := idx.members[room]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns a copy of the set of rooms the session has joined.
func (idx *RoomIndex) RoomsOf(sessionID string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rooms, ok := idx.joined[sessionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
	}
	return out
}

// RemoveSession takes the session out of every room it belonged to, atomically
// with respect to a single disconnect event. It returns the rooms vacated.
func (idx *RoomIndex) RemoveSession(sessionID string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rooms, ok := idx.joined[sessionID]
	if !ok {
		return nil
	}
	vacated := make([]string, 0, len(rooms))
	for room := range rooms {
		vacated = append(vacated, room)
		idx.leaveLocked(sessionID, room)
	}
	return vacated
}

// RoomCount returns the number of non-empty rooms.
func (idx *RoomIndex) RoomCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.members)
}
