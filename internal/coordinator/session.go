package coordinator

import (
	"context"

	"github.com/mossy-p/roomcall/internal/models"
)

type Role int

const (
	RoleUndetermined Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	}
	return "undetermined"
}

type State int

const (
	StateIdle State = iota
	StateCreatingOffer
	StateOfferSent
	StateCreatingAnswer
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreatingOffer:
		return "creating-offer"
	case StateOfferSent:
		return "offer-sent"
	case StateCreatingAnswer:
		return "creating-answer"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// session is the negotiation state for one remote peer. Its fields are owned
// by the coordinator loop; engine calls run on the session's own worker
// goroutine, one at a time and in submission order.
type session struct {
	peerID string
	role   Role
	state  State
	pc     PeerConnection

	pending        []models.ICECandidate // remote candidates awaiting the remote description
	remoteQueued   bool                  // a remote description has been submitted to the engine
	remoteSet      bool
	tracksAttached bool
	remoteStream   bool

	ops    *mailbox
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(parent context.Context, peerID string) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		peerID: peerID,
		ops:    newMailbox(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// do queues an engine operation on the session worker.
func (s *session) do(op func(ctx context.Context)) {
	s.ops.post(func() { op(s.ctx) })
}

func (s *session) work() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.ops.ready:
			for _, op := range s.ops.drain() {
				if s.ctx.Err() != nil {
					return
				}
				op()
			}
		}
	}
}

// sessionListener forwards engine notifications to the coordinator loop.
type sessionListener struct {
	c *Coordinator
	s *session
}

func (l *sessionListener) OnICECandidate(cand models.ICECandidate) {
	l.c.post(func() { l.c.onLocalCandidate(l.s, cand) })
}

func (l *sessionListener) OnRemoteStream() {
	l.c.post(func() { l.c.onRemoteStream(l.s) })
}

func (l *sessionListener) OnConnectionStateChange(state ConnectionState) {
	l.c.post(func() { l.c.onConnectionState(l.s, state) })
}
