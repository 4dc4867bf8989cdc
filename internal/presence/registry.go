// Package presence tracks which users are connected to which mind map and
// keeps every member of a map informed of the current contributor list.
package presence

import (
	"log/slog"
	"sync"

	"mindmap/api/internal/observability"
)

const (
	EventContributorsUpdated = "contributors-updated"
	EventMapUpdated          = "map-updated"
	EventCommentAdded        = "comment-added"
	EventCommentDeleted      = "comment-deleted"
)

// User is the summary a client announces when joining a map. Every field is
// optional; ID is what deduplicates contributors.
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Contributor is a user as seen on one connection.
type Contributor struct {
	User
	SocketID string `json:"socketId"`
}

// Message is one outbound event for the members of a room.
type Message struct {
	Event   string `json:"event"`
	MapID   string `json:"mapId"`
	Payload any    `json:"payload"`
}

// ContributorsUpdate is the payload of contributors-updated.
type ContributorsUpdate struct {
	MapID        string        `json:"mapId"`
	Contributors []Contributor `json:"contributors"`
}

// Emitter delivers messages to connections. Emit is called with the
// registry lock held and must not block or call back into the registry.
type Emitter interface {
	Emit(recipients []string, msg Message)
}

// Registry owns the connection to user mapping and room membership for one
// process. It is safe for concurrent use; events are applied one at a time.
type Registry struct {
	mu      sync.Mutex
	users   map[string]User
	rooms   map[string][]string // room -> connection ids in join order
	joined  map[string][]string // connection -> rooms in join order
	emitter Emitter
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewRegistry(emitter Emitter, logger *slog.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Registry{
		users:   make(map[string]User),
		rooms:   make(map[string][]string),
		joined:  make(map[string][]string),
		emitter: emitter,
		logger:  logger,
		metrics: metrics,
	}
}

// Join adds connID to room, records user when given and broadcasts the new
// contributor list. A missing room id is ignored.
func (r *Registry) Join(room, connID string, user *User) {
	if room == "" || connID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if user != nil {
		r.users[connID] = *user
	}
	if !contains(r.rooms[room], connID) {
		r.rooms[room] = append(r.rooms[room], connID)
		r.joined[connID] = append(r.joined[connID], room)
	}
	r.metrics.PresenceEvent("join")
	r.metrics.SetRooms(len(r.rooms))
	r.logger.Debug("presence join", "map_id", room, "conn_id", connID)

	r.broadcastLocked(room, "")
}

// Leave removes connID from room and broadcasts. Leaving a room the
// connection never joined still broadcasts the current list.
func (r *Registry) Leave(room, connID string) {
	if room == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(room, connID)
	r.metrics.PresenceEvent("leave")
	r.metrics.SetRooms(len(r.rooms))
	r.logger.Debug("presence leave", "map_id", room, "conn_id", connID)

	r.broadcastLocked(room, "")
}

// Disconnect tells every room the connection belonged to that it is gone,
// then forgets the connection entirely.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := append([]string(nil), r.joined[connID]...)
	for _, room := range rooms {
		r.broadcastLocked(room, connID)
	}
	for _, room := range rooms {
		r.removeLocked(room, connID)
	}
	delete(r.users, connID)
	delete(r.joined, connID)

	r.metrics.PresenceEvent("disconnect")
	r.metrics.SetRooms(len(r.rooms))
	r.logger.Debug("presence disconnect", "conn_id", connID, "rooms", len(rooms))
}

// BroadcastContributors sends the contributor list of room to its members,
// leaving out exclude. Unknown rooms get an empty list.
func (r *Registry) BroadcastContributors(room, exclude string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(room, exclude)
}

// Publish sends an arbitrary event to the current members of room.
func (r *Registry) Publish(room, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(room, "", Message{Event: event, MapID: room, Payload: payload})
}

// Contributors returns the deduplicated contributor list of room.
func (r *Registry) Contributors(room string) []Contributor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contributorsLocked(room, "")
}

// RoomsOf lists the rooms connID has joined, in join order.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.joined[connID]...)
}

// Members lists the connections in room, in join order.
func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rooms[room]...)
}

// Close drops all presence state.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]User)
	r.rooms = make(map[string][]string)
	r.joined = make(map[string][]string)
	r.metrics.SetRooms(0)
}

func (r *Registry) broadcastLocked(room, exclude string) {
	list := r.contributorsLocked(room, exclude)
	r.emitLocked(room, exclude, Message{
		Event:   EventContributorsUpdated,
		MapID:   room,
		Payload: ContributorsUpdate{MapID: room, Contributors: list},
	})
}

func (r *Registry) emitLocked(room, exclude string, msg Message) {
	recipients := make([]string, 0, len(r.rooms[room]))
	for _, connID := range r.rooms[room] {
		if connID != exclude {
			recipients = append(recipients, connID)
		}
	}
	r.metrics.Broadcast(msg.Event)
	if r.emitter != nil {
		r.emitter.Emit(recipients, msg)
	}
}

// contributorsLocked walks members in join order. The first connection seen
// for a user id wins; entries without an id are kept as they are.
func (r *Registry) contributorsLocked(room, exclude string) []Contributor {
	out := []Contributor{}
	seen := make(map[string]bool)
	for _, connID := range r.rooms[room] {
		if connID == exclude {
			continue
		}
		user, ok := r.users[connID]
		if !ok {
			continue
		}
		if user.ID != "" {
			if seen[user.ID] {
				continue
			}
			seen[user.ID] = true
		}
		out = append(out, Contributor{User: user, SocketID: connID})
	}
	return out
}

func (r *Registry) removeLocked(room, connID string) {
	members := without(r.rooms[room], connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	} else {
		r.rooms[room] = members
	}
	rooms := without(r.joined[connID], room)
	if len(rooms) == 0 {
		delete(r.joined, connID)
	} else {
		r.joined[connID] = rooms
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
