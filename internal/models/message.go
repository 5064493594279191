package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names a signaling event on the room channel
type Event string

const (
	EventJoin      Event = "join"
	EventLeave     Event = "leave"
	EventRoomUsers Event = "room_users"
	EventOffer     Event = "offer"
	EventAnswer    Event = "answer"
	EventCandidate Event = "candidate"
	EventUserExit  Event = "user_exit"
)

var (
	ErrUnknownEvent     = errors.New("unknown signaling event")
	ErrMalformedPayload = errors.New("malformed signaling payload")
)

// Envelope is the frame exchanged over the WebSocket channel.
// Data is kept raw so the relay can forward it without decoding.
type Envelope struct {
	Event Event           `json:"event"`
	From  string          `json:"from,omitempty"`
	To    string          `json:"to,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a single frame. Only the envelope itself is validated.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedPayload)
	}
	return env, nil
}

// JoinRequest is the payload of a join event
type JoinRequest struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

// SessionDescription is the payload of offer and answer events
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is the payload of a candidate event
type ICECandidate struct {
	ID        string `json:"id"`
	Label     int    `json:"label"`
	Candidate string `json:"candidate"`
}

// UserExitPayload is the payload of a user_exit event
type UserExitPayload struct {
	ID string `json:"id"`
}

// SignalingMessage is one of Join, Leave, RoomUsers, Offer, Answer, Candidate or UserExit.
type SignalingMessage interface {
	Event() Event
	payload() any
}

type Join struct {
	Room string
	Name string
}

type Leave struct{}

type RoomUsers struct {
	IDs []string
}

type Offer struct {
	SDP string
}

type Answer struct {
	SDP string
}

type Candidate struct {
	Mid        string
	MLineIndex int
	Candidate  string
}

type UserExit struct {
	ID string
}

func (Join) Event() Event      { return EventJoin }
func (Leave) Event() Event     { return EventLeave }
func (RoomUsers) Event() Event { return EventRoomUsers }
func (Offer) Event() Event     { return EventOffer }
func (Answer) Event() Event    { return EventAnswer }
func (Candidate) Event() Event { return EventCandidate }
func (UserExit) Event() Event  { return EventUserExit }

func (m Join) payload() any { return JoinRequest{Room: m.Room, Name: m.Name} }
func (Leave) payload() any  { return nil }

func (m RoomUsers) payload() any {
	if m.IDs == nil {
		return []string{}
	}
	return m.IDs
}

func (m Offer) payload() any  { return SessionDescription{Type: string(EventOffer), SDP: m.SDP} }
func (m Answer) payload() any { return SessionDescription{Type: string(EventAnswer), SDP: m.SDP} }

func (m Candidate) payload() any {
	return ICECandidate{ID: m.Mid, Label: m.MLineIndex, Candidate: m.Candidate}
}

func (m UserExit) payload() any { return UserExitPayload{ID: m.ID} }

// Encode wraps msg into an envelope addressed to `to` (empty means the whole room).
func Encode(msg SignalingMessage, to string) (Envelope, error) {
	env := Envelope{Event: msg.Event(), To: to}
	if p := msg.payload(); p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s: %w", msg.Event(), err)
		}
		env.Data = data
	}
	return env, nil
}

// Decode turns an envelope back into a typed message.
func Decode(env Envelope) (SignalingMessage, error) {
	switch env.Event {
	case EventJoin:
		var req JoinRequest
		if err := decodeData(env, &req); err != nil {
			return nil, err
		}
		if req.Room == "" {
			return nil, fmt.Errorf("%w: join without room", ErrMalformedPayload)
		}
		return Join{Room: req.Room, Name: req.Name}, nil
	case EventLeave:
		return Leave{}, nil
	case EventRoomUsers:
		var ids []string
		if err := decodeData(env, &ids); err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []string{}
		}
		return RoomUsers{IDs: ids}, nil
	case EventOffer, EventAnswer:
		var desc SessionDescription
		if err := decodeData(env, &desc); err != nil {
			return nil, err
		}
		if desc.Type != "" && desc.Type != string(env.Event) {
			return nil, fmt.Errorf("%w: %s carries sdp type %q", ErrMalformedPayload, env.Event, desc.Type)
		}
		if desc.SDP == "" {
			return nil, fmt.Errorf("%w: %s without sdp", ErrMalformedPayload, env.Event)
		}
		if env.Event == EventOffer {
			return Offer{SDP: desc.SDP}, nil
		}
		return Answer{SDP: desc.SDP}, nil
	case EventCandidate:
		var c ICECandidate
		if err := decodeData(env, &c); err != nil {
			return nil, err
		}
		if c.Candidate == "" {
			return nil, fmt.Errorf("%w: empty candidate", ErrMalformedPayload)
		}
		return Candidate{Mid: c.ID, MLineIndex: c.Label, Candidate: c.Candidate}, nil
	case EventUserExit:
		var p UserExitPayload
		if err := decodeData(env, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, fmt.Errorf("%w: user_exit without id", ErrMalformedPayload)
		}
		return UserExit{ID: p.ID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Event, err)
	}
	return nil
}

// IsRelayed reports whether the relay forwards the event between members.
func IsRelayed(e Event) bool {
	switch e {
	case EventOffer, EventAnswer, EventCandidate:
		return true
	}
	return false
}
