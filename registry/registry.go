package registry

import "sync"

// Registry is the process-wide session and room-membership index. All
// operations are serialized by a single lock whose hold
// time is bounded to pointer manipulation only — never I/O — so that
// broadcasts can snapshot membership without blocking the rest of the
// server on a slow peer.
type Registry struct {
	mu              sync.Mutex
	sessions        map[int]*Session
	rooms           map[string]map[int]struct{}
	nextID          int
	sequencePerRoom map[string]int
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		sessions:        make(map[int]*Session),
		rooms:           make(map[string]map[int]struct{}),
		sequencePerRoom: make(map[string]int),
	}
}

// IssueID returns a fresh, never-reused client id.
func (r *Registry) IssueID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// Insert admits session into the registry and its room's membership set.
func (r *Registry) Insert(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ClientID] = session
	r.addToRoom(session.Room(), session.ClientID)
}

// Remove pops a session from both the id map and its room's membership
// set, deleting the room entry if it becomes empty. Returns the removed
// session, or nil if no such id was registered.
func (r *Registry) Remove(clientID int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[clientID]
	if !ok {
		return nil
	}
	delete(r.sessions, clientID)
	r.removeFromRoom(session.Room(), clientID)
	return session
}

// Lookup returns the session for clientID, or nil if it is not registered.
func (r *Registry) Lookup(clientID int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[clientID]
}

// MembersOf returns a snapshot copy of the sessions currently in room.
// Callers iterate the returned slice without holding any lock, which is
// what lets the broadcaster perform I/O per recipient without blocking
// concurrent registry mutations.
func (r *Registry) MembersOf(room string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.rooms[room]
	members := make([]*Session, 0, len(ids))
	for id := range ids {
		if s, ok := r.sessions[id]; ok {
			members = append(members, s)
		}
	}
	return members
}

// Move relocates session to newRoom, a no-op if it is already there.
// Returns the room the session was in before the call.
func (r *Registry) Move(session *Session, newRoom string) (oldRoom string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldRoom = session.Room()
	if oldRoom == newRoom {
		return oldRoom
	}
	r.removeFromRoom(oldRoom, session.ClientID)
	r.addToRoom(newRoom, session.ClientID)
	session.setRoom(newRoom)
	return oldRoom
}

// NextSequence assigns the next monotonically increasing chat sequence
// number for room. The order in which calls reach this function is the
// order sequence numbers are handed out, not the order frames arrived
// over the wire.
func (r *Registry) NextSequence(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequencePerRoom[room]++
	return r.sequencePerRoom[room]
}

// Size returns the number of sessions currently registered, for tests and
// metrics.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) addToRoom(room string, clientID int) {
	set, ok := r.rooms[room]
	if !ok {
		set = make(map[int]struct{})
		r.rooms[room] = set
	}
	set[clientID] = struct{}{}
}

func (r *Registry) removeFromRoom(room string, clientID int) {
	set, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(set, clientID)
	if len(set) == 0 {
		delete(r.rooms, room)
	}
}
