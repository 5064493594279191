// Package relay implements room membership bookkeeping and best-effort
// fan-out of signaling envelopes between members of the same room.
//
// The relay never inspects offer/answer/candidate payloads. Each room has its
// own lock so that joins, leaves and fan-out within a room are serialized
// while independent rooms proceed in parallel. Locks are always taken in the
// order room -> registry.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/mossy-p/roomcall/internal/models"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrNotMember       = errors.New("sender is not a member of the room")
	ErrUnknownConn     = errors.New("unknown connection")
	ErrInvalidRoomName = errors.New("invalid room name")
)

const presenceTimeout = 2 * time.Second

// Sender delivers an envelope to one connection. Implementations must not
// block; a message that cannot be delivered is dropped.
type Sender interface {
	Send(env models.Envelope)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(env models.Envelope)

func (f SenderFunc) Send(env models.Envelope) { f(env) }

// PresenceStore mirrors room membership to an external store. Writes are
// member scoped so that mirror calls for different members commute; the
// store drops a room once its last member is removed.
type PresenceStore interface {
	AddMember(ctx context.Context, room, id, name string) error
	RemoveMember(ctx context.Context, room, id string) error
}

// Options configures a Relay.
type Options struct {
	LoggerFactory logging.LoggerFactory
	Presence      PresenceStore
}

type Relay struct {
	log      logging.LeveledLogger
	presence PresenceStore

	mu       sync.Mutex
	rooms    map[string]*room
	conns    map[string]Sender
	assigned map[string]string // connection id -> room name
}

type room struct {
	name string

	mu      sync.Mutex
	order   []string
	members map[string]*member
	closed  bool
}

type member struct {
	id   string
	name string
	out  Sender
}

func New(opts Options) *Relay {
	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Relay{
		log:      lf.NewLogger("relay"),
		presence: opts.Presence,
		rooms:    make(map[string]*room),
		conns:    make(map[string]Sender),
		assigned: make(map[string]string),
	}
}

// Connect registers the outbound sink of a transport connection.
func (r *Relay) Connect(connID string, out Sender) {
	r.mu.Lock()
	r.conns[connID] = out
	r.mu.Unlock()
	r.log.Debugf("connection %s registered", connID)
}

// Join adds connID to roomName and delivers the other members' ids to the
// joiner. Re-joining the same room only updates the display name; joining a
// different room leaves the current one first.
func (r *Relay) Join(connID, roomName, displayName string) error {
	if roomName == "" {
		return ErrInvalidRoomName
	}

	r.mu.Lock()
	out, ok := r.conns[connID]
	current := r.assigned[connID]
	r.mu.Unlock()
	if !ok {
		r.log.Warnf("join from unknown connection %s", connID)
		return ErrUnknownConn
	}
	if current != "" && current != roomName {
		r.Leave(connID)
	}

	for {
		rm := r.getOrCreate(roomName)

		rm.mu.Lock()
		if rm.closed {
			// Emptied and removed between lookup and lock.
			rm.mu.Unlock()
			continue
		}

		if m, exists := rm.members[connID]; exists {
			m.name = displayName
		} else {
			rm.members[connID] = &member{id: connID, name: displayName, out: out}
			rm.order = append(rm.order, connID)
		}
		r.mu.Lock()
		r.assigned[connID] = roomName
		r.mu.Unlock()

		others := make([]string, 0, len(rm.order)-1)
		for _, id := range rm.order {
			if id != connID {
				others = append(others, id)
			}
		}
		env, err := models.Encode(models.RoomUsers{IDs: others}, "")
		if err == nil {
			out.Send(env)
		}
		rm.mu.Unlock()

		r.log.Infof("%s (%q) joined room %s (%d members)", connID, displayName, roomName, len(others)+1)
		r.mirrorAdd(roomName, connID, displayName)
		return err
	}
}

// Relay forwards env verbatim to every other member of roomName, or only to
// env.To when set. Unknown rooms and non-member senders are logged and dropped.
func (r *Relay) Relay(senderID, roomName string, env models.Envelope) error {
	r.mu.Lock()
	rm := r.rooms[roomName]
	r.mu.Unlock()
	if rm == nil {
		r.log.Warnf("drop %s from %s: room %q not found", env.Event, senderID, roomName)
		return ErrRoomNotFound
	}

	env.From = senderID

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[senderID]; !ok || rm.closed {
		r.log.Warnf("drop %s from %s: not a member of %s", env.Event, senderID, roomName)
		return ErrNotMember
	}

	delivered := 0
	for _, id := range rm.order {
		if id == senderID {
			continue
		}
		if env.To != "" && env.To != id {
			continue
		}
		rm.members[id].out.Send(env)
		delivered++
	}
	if env.To != "" && delivered == 0 {
		r.log.Debugf("drop %s from %s: target %s not in room %s", env.Event, senderID, env.To, roomName)
	}
	r.log.Tracef("relayed %s from %s to %d member(s) of %s", env.Event, senderID, delivered, roomName)
	return nil
}

// Leave removes connID from its room, destroying the room when it empties and
// notifying the remaining members with user_exit.
func (r *Relay) Leave(connID string) error {
	r.mu.Lock()
	roomName, ok := r.assigned[connID]
	rm := r.rooms[roomName]
	r.mu.Unlock()
	if !ok || rm == nil {
		r.log.Debugf("leave from %s: not in any room", connID)
		return ErrNotMember
	}

	rm.mu.Lock()
	if _, ok := rm.members[connID]; !ok {
		rm.mu.Unlock()
		return ErrNotMember
	}
	delete(rm.members, connID)
	for i, id := range rm.order {
		if id == connID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	empty := len(rm.order) == 0

	r.mu.Lock()
	delete(r.assigned, connID)
	if empty {
		rm.closed = true
		if r.rooms[roomName] == rm {
			delete(r.rooms, roomName)
		}
	}
	r.mu.Unlock()

	if !empty {
		if env, err := models.Encode(models.UserExit{ID: connID}, ""); err == nil {
			env.From = connID
			for _, id := range rm.order {
				rm.members[id].out.Send(env)
			}
		}
	}
	remaining := len(rm.order)
	rm.mu.Unlock()

	r.log.Infof("%s left room %s (%d remaining)", connID, roomName, remaining)
	r.mirrorRemove(roomName, connID)
	return nil
}

// Disconnect handles a dropped transport. It is equivalent to Leave followed
// by forgetting the connection's sink.
func (r *Relay) Disconnect(connID string) {
	_ = r.Leave(connID)
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
	r.log.Debugf("connection %s unregistered", connID)
}

// RoomOf returns the room connID is currently in.
func (r *Relay) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.assigned[connID]
	return name, ok
}

// Members returns the roster of roomName in join order.
func (r *Relay) Members(roomName string) []models.Member {
	r.mu.Lock()
	rm := r.rooms[roomName]
	r.mu.Unlock()
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]models.Member, 0, len(rm.order))
	for _, id := range rm.order {
		out = append(out, models.Member{ID: id, Name: rm.members[id].name})
	}
	return out
}

// Rooms returns the names of all live rooms.
func (r *Relay) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	return names
}

func (r *Relay) getOrCreate(name string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{name: name, members: make(map[string]*member)}
		r.rooms[name] = rm
		r.log.Debugf("created room %s", name)
	}
	return rm
}

func (r *Relay) mirrorAdd(roomName, id, name string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.AddMember(ctx, roomName, id, name); err != nil {
		r.log.Warnf("presence add %s/%s: %v", roomName, id, err)
	}
}

func (r *Relay) mirrorRemove(roomName, id string) {
	if r.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := r.presence.RemoveMember(ctx, roomName, id); err != nil {
		r.log.Warnf("presence remove %s/%s: %v", roomName, id, err)
	}
}
