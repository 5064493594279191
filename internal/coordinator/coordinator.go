// Package coordinator drives the per-call WebRTC negotiation on the client.
//
// A Coordinator owns one session per remote peer and decides, from the room
// events delivered by the relay, whether it offers or answers. All state is
// owned by a single event loop (Run); relay messages, user commands, engine
// results and engine notifications are posted to an unbounded mailbox and
// applied one at a time. Engine calls never run on the loop.
package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/pion/logging"

	"github.com/mossy-p/roomcall/internal/models"
)

// maxEarlyCandidates bounds the candidates held for a peer that has no
// session yet.
const maxEarlyCandidates = 32

type Options struct {
	Engine        Engine
	Signaler      Signaler
	LoggerFactory logging.LoggerFactory

	// OnChange is called from the event loop after every state change. It
	// must not block.
	OnChange func(Snapshot)
}

// SessionInfo is the observable state of one peer session.
type SessionInfo struct {
	PeerID       string
	Role         Role
	State        State
	RemoteStream bool
}

// Snapshot is the observable state of the call.
type Snapshot struct {
	Joined                bool
	Room                  string
	Name                  string
	LocalMedia            bool
	CameraOn              bool
	MicOn                 bool
	RemoteStreamAvailable bool
	Sessions              []SessionInfo
}

// Session returns the info for peerID.
func (s Snapshot) Session(peerID string) (SessionInfo, bool) {
	for _, info := range s.Sessions {
		if info.PeerID == peerID {
			return info, true
		}
	}
	return SessionInfo{}, false
}

type Coordinator struct {
	engine   Engine
	signaler Signaler
	log      logging.LeveledLogger
	onChange func(Snapshot)

	mbox *mailbox

	// Owned by the loop.
	ctx         context.Context
	sessions    map[string]*session
	joined      bool
	room        string
	name        string
	localTracks []Track
	mediaBusy   bool
	cameraOn    bool
	micOn       bool

	// Candidates from peers without a session, applied once one opens.
	early    map[string][]models.ICECandidate
	// Peers whose session closed; their stray candidates are dropped.
	closed   map[string]bool
	// Peers to offer to once local media is ready.
	deferred []string

	snapMu sync.Mutex
	snap   Snapshot
}

func New(opts Options) *Coordinator {
	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Coordinator{
		engine:   opts.Engine,
		signaler: opts.Signaler,
		log:      lf.NewLogger("coordinator"),
		onChange: opts.OnChange,
		mbox:     newMailbox(),
		sessions: make(map[string]*session),
		cameraOn: true,
		micOn:    true,
		early:    make(map[string][]models.ICECandidate),
		closed:   make(map[string]bool),
	}
}

// Run processes events until ctx is done. Every open session is closed on
// return.
func (c *Coordinator) Run(ctx context.Context) error {
	c.ctx = ctx
	defer func() {
		c.closeAll("shutdown")
		c.publish()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.mbox.ready:
			for _, fn := range c.mbox.drain() {
				fn()
				c.publish()
			}
		}
	}
}

func (c *Coordinator) post(fn func()) {
	c.mbox.post(fn)
}

// Snapshot returns the last published state.
func (c *Coordinator) Snapshot() Snapshot {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	return c.snap
}

// Join asks the relay to add this client to room.
func (c *Coordinator) Join(room, name string) {
	c.post(func() { c.join(room, name) })
}

// Leave closes every session and leaves the room. It is idempotent.
func (c *Coordinator) Leave() {
	c.post(func() { c.leave(true) })
}

// TransportClosed tears the call down after the relay connection dropped.
func (c *Coordinator) TransportClosed() {
	c.post(func() { c.leave(false) })
}

// StartLocalMedia acquires local tracks and attaches them to every open session.
func (c *Coordinator) StartLocalMedia() {
	c.post(c.startLocalMedia)
}

func (c *Coordinator) SetCameraEnabled(enabled bool) {
	c.post(func() {
		c.cameraOn = enabled
		c.setTrackEnabled("video", enabled)
	})
}

func (c *Coordinator) SetMicEnabled(enabled bool) {
	c.post(func() {
		c.micOn = enabled
		c.setTrackEnabled("audio", enabled)
	})
}

// HandleMessage feeds an envelope received from the relay.
func (c *Coordinator) HandleMessage(env models.Envelope) {
	c.post(func() { c.handle(env) })
}

func (c *Coordinator) handle(env models.Envelope) {
	msg, err := models.Decode(env)
	if err != nil {
		c.log.Warnf("drop %s from %q: %v", env.Event, env.From, err)
		return
	}

	switch m := msg.(type) {
	case models.RoomUsers:
		c.onRoomUsers(m.IDs)
	case models.Offer:
		c.onOffer(env.From, m.SDP)
	case models.Answer:
		c.onAnswer(env.From, m.SDP)
	case models.Candidate:
		c.onRemoteCandidate(env.From, models.ICECandidate{ID: m.Mid, Label: m.MLineIndex, Candidate: m.Candidate})
	case models.UserExit:
		delete(c.early, m.ID)
		if s := c.sessions[m.ID]; s != nil {
			c.closeSession(s, "peer left")
		}
	default:
		c.log.Warnf("drop unexpected %s from relay", env.Event)
	}
}

func (c *Coordinator) join(room, name string) {
	if c.joined && c.room == room && c.name == name {
		return
	}
	if c.joined && c.room != room {
		c.leave(true)
	}
	if err := c.send(models.Join{Room: room, Name: name}, ""); err != nil {
		c.log.Errorf("join %s: %v", room, err)
		return
	}
	c.joined = true
	c.room = room
	c.name = name
	c.log.Infof("joining room %s as %q", room, name)
}

func (c *Coordinator) leave(notify bool) {
	c.closeAll("leave")
	if !c.joined {
		return
	}
	if notify {
		if err := c.send(models.Leave{}, ""); err != nil {
			c.log.Debugf("leave: %v", err)
		}
	}
	c.log.Infof("left room %s", c.room)
	c.joined = false
	c.room = ""
}

func (c *Coordinator) onRoomUsers(ids []string) {
	if !c.joined {
		c.log.Warnf("room_users while not joined")
		return
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		s := c.sessions[id]
		if s == nil {
			if s = c.openSession(id); s == nil {
				continue
			}
		}
		if s.role != RoleUndetermined || s.state != StateIdle {
			c.log.Debugf("peer %s already negotiating as %s", id, s.role)
			continue
		}
		if c.mediaBusy {
			// The offer must carry the local tracks.
			c.deferred = append(c.deferred, id)
			continue
		}
		c.startOffer(s)
	}
}

func (c *Coordinator) flushDeferred() {
	ids := c.deferred
	c.deferred = nil
	for _, id := range ids {
		s := c.sessions[id]
		if s == nil || s.role != RoleUndetermined || s.state != StateIdle {
			continue
		}
		c.startOffer(s)
	}
}

func (c *Coordinator) startOffer(s *session) {
	s.role = RoleOfferer
	s.state = StateCreatingOffer
	c.attachTracks(s)

	s.do(func(ctx context.Context) {
		sdp, err := s.pc.CreateOffer(ctx)
		if err != nil {
			c.post(func() { c.fail(s, "create offer", err) })
			return
		}
		if err := s.pc.SetLocalDescription(ctx, models.SessionDescription{Type: "offer", SDP: sdp}); err != nil {
			c.post(func() { c.fail(s, "set local offer", err) })
			return
		}
		c.post(func() { c.onOfferReady(s, sdp) })
	})
}

func (c *Coordinator) onOfferReady(s *session, sdp string) {
	if !c.current(s) || s.state != StateCreatingOffer {
		return
	}
	if err := c.send(models.Offer{SDP: sdp}, s.peerID); err != nil {
		c.fail(s, "send offer", err)
		return
	}
	s.state = StateOfferSent
	c.log.Debugf("offer sent to %s", s.peerID)
}

func (c *Coordinator) onOffer(from, sdp string) {
	if from == "" {
		c.log.Warnf("drop offer without sender")
		return
	}
	s := c.sessions[from]
	if s == nil {
		if s = c.openSession(from); s == nil {
			return
		}
	}
	if s.role != RoleUndetermined || s.state != StateIdle {
		c.log.Warnf("reject offer from %s: session is %s/%s", from, s.role, s.state)
		return
	}

	s.role = RoleAnswerer
	s.state = StateCreatingAnswer
	s.remoteQueued = true
	c.attachTracks(s)

	s.do(func(ctx context.Context) {
		if err := s.pc.SetRemoteDescription(ctx, models.SessionDescription{Type: "offer", SDP: sdp}); err != nil {
			c.post(func() { c.fail(s, "set remote offer", err) })
			return
		}
		c.post(func() { c.onRemoteApplied(s) })

		answer, err := s.pc.CreateAnswer(ctx)
		if err != nil {
			c.post(func() { c.fail(s, "create answer", err) })
			return
		}
		if err := s.pc.SetLocalDescription(ctx, models.SessionDescription{Type: "answer", SDP: answer}); err != nil {
			c.post(func() { c.fail(s, "set local answer", err) })
			return
		}
		c.post(func() { c.onAnswerReady(s, answer) })
	})
}

func (c *Coordinator) onAnswerReady(s *session, sdp string) {
	if !c.current(s) || s.state != StateCreatingAnswer {
		return
	}
	if err := c.send(models.Answer{SDP: sdp}, s.peerID); err != nil {
		c.fail(s, "send answer", err)
		return
	}
	s.state = StateAnswerSent
	c.log.Debugf("answer sent to %s", s.peerID)
}

func (c *Coordinator) onAnswer(from, sdp string) {
	s := c.sessions[from]
	if s == nil || s.state != StateOfferSent || s.remoteQueued {
		state := "none"
		if s != nil {
			state = s.state.String()
		}
		c.log.Warnf("reject answer from %q: session is %s", from, state)
		return
	}

	s.remoteQueued = true
	s.do(func(ctx context.Context) {
		if err := s.pc.SetRemoteDescription(ctx, models.SessionDescription{Type: "answer", SDP: sdp}); err != nil {
			c.post(func() { c.fail(s, "set remote answer", err) })
			return
		}
		c.post(func() {
			if !c.current(s) {
				return
			}
			c.onRemoteApplied(s)
			if s.state == StateOfferSent {
				s.state = StateConnected
				c.log.Infof("connected to %s", s.peerID)
			}
		})
	})
}

// onRemoteApplied flushes buffered candidates in arrival order.
func (c *Coordinator) onRemoteApplied(s *session) {
	if !c.current(s) || s.remoteSet {
		return
	}
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	for _, cand := range pending {
		c.applyCandidate(s, cand)
	}
}

func (c *Coordinator) onRemoteCandidate(from string, cand models.ICECandidate) {
	if from == "" {
		c.log.Warnf("drop candidate without sender")
		return
	}
	s := c.sessions[from]
	if s == nil {
		c.holdEarly(from, cand)
		return
	}
	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		return
	}
	c.applyCandidate(s, cand)
}

// holdEarly keeps a candidate that arrived before the peer's offer. Peers
// whose session already closed are ignored.
func (c *Coordinator) holdEarly(from string, cand models.ICECandidate) {
	if c.closed[from] {
		c.log.Debugf("drop candidate from closed peer %s", from)
		return
	}
	if len(c.early[from]) >= maxEarlyCandidates {
		c.log.Warnf("drop candidate from %s: too many before offer", from)
		return
	}
	c.early[from] = append(c.early[from], cand)
}

// applyCandidate hands cand to the engine. A rejected candidate only loses
// that path; the session stays up.
func (c *Coordinator) applyCandidate(s *session, cand models.ICECandidate) {
	s.do(func(context.Context) {
		if err := s.pc.AddICECandidate(cand); err != nil {
			c.log.Warnf("ignore candidate from %s: %v", s.peerID, err)
		}
	})
}

func (c *Coordinator) onLocalCandidate(s *session, cand models.ICECandidate) {
	if !c.current(s) {
		return
	}
	msg := models.Candidate{Mid: cand.ID, MLineIndex: cand.Label, Candidate: cand.Candidate}
	if err := c.send(msg, s.peerID); err != nil {
		c.log.Warnf("send candidate to %s: %v", s.peerID, err)
	}
}

func (c *Coordinator) onRemoteStream(s *session) {
	if !c.current(s) {
		return
	}
	s.remoteStream = true
	c.log.Infof("remote stream from %s", s.peerID)
}

func (c *Coordinator) onConnectionState(s *session, state ConnectionState) {
	if !c.current(s) {
		return
	}
	c.log.Debugf("peer %s connection %s", s.peerID, state)
	switch state {
	case ConnectionConnected:
		if s.state == StateAnswerSent || s.state == StateOfferSent {
			s.state = StateConnected
			c.log.Infof("connected to %s", s.peerID)
		}
	case ConnectionFailed, ConnectionClosed:
		c.closeSession(s, "connection "+state.String())
	}
}

func (c *Coordinator) startLocalMedia() {
	if c.localTracks != nil || c.mediaBusy {
		return
	}
	c.mediaBusy = true
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		tracks, err := c.engine.LocalTracks(ctx)
		c.post(func() {
			c.mediaBusy = false
			if err != nil {
				c.log.Errorf("start local media: %v", err)
				c.flushDeferred()
				return
			}
			c.localTracks = tracks
			c.setTrackEnabled("video", c.cameraOn)
			c.setTrackEnabled("audio", c.micOn)
			for _, s := range c.sessions {
				c.attachTracks(s)
			}
			c.flushDeferred()
		})
	}()
}

// attachTracks adds the local tracks to s at most once.
func (c *Coordinator) attachTracks(s *session) {
	if s.tracksAttached || len(c.localTracks) == 0 || s.state == StateClosed {
		return
	}
	s.tracksAttached = true
	tracks := c.localTracks
	s.do(func(context.Context) {
		for _, t := range tracks {
			if err := s.pc.AddTrack(t); err != nil {
				c.post(func() { c.fail(s, "add track", err) })
				return
			}
		}
	})
}

func (c *Coordinator) setTrackEnabled(kind string, enabled bool) {
	for _, t := range c.localTracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (c *Coordinator) openSession(peerID string) *session {
	parent := c.ctx
	if parent == nil {
		parent = context.Background()
	}
	s := newSession(parent, peerID)
	pc, err := c.engine.NewPeerConnection(peerID, &sessionListener{c: c, s: s})
	if err != nil {
		s.cancel()
		c.log.Errorf("peer connection for %s: %v", peerID, err)
		return nil
	}
	s.pc = pc
	s.pending = c.early[peerID]
	delete(c.early, peerID)
	delete(c.closed, peerID)
	c.sessions[peerID] = s
	go s.work()
	c.log.Debugf("session opened for %s", peerID)
	return s
}

func (c *Coordinator) fail(s *session, op string, err error) {
	if !c.current(s) {
		return
	}
	c.log.Errorf("%s for %s: %v", op, s.peerID, err)
	c.closeSession(s, op+" failed")
}

func (c *Coordinator) closeSession(s *session, reason string) {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.pending = nil
	s.cancel()
	if c.sessions[s.peerID] == s {
		delete(c.sessions, s.peerID)
		c.closed[s.peerID] = true
	}
	pc := s.pc
	go func() {
		if err := pc.Close(); err != nil {
			c.log.Debugf("close peer connection %s: %v", s.peerID, err)
		}
	}()
	c.log.Infof("session with %s closed: %s", s.peerID, reason)
}

func (c *Coordinator) closeAll(reason string) {
	for _, s := range c.sessions {
		c.closeSession(s, reason)
	}
	c.early = make(map[string][]models.ICECandidate)
	c.closed = make(map[string]bool)
	c.deferred = nil
}

// current reports whether s is still the live session for its peer.
func (c *Coordinator) current(s *session) bool {
	return s.state != StateClosed && c.sessions[s.peerID] == s
}

func (c *Coordinator) send(msg models.SignalingMessage, to string) error {
	env, err := models.Encode(msg, to)
	if err != nil {
		return err
	}
	return c.signaler.Send(env)
}

func (c *Coordinator) publish() {
	snap := Snapshot{
		Joined:     c.joined,
		Room:       c.room,
		Name:       c.name,
		LocalMedia: c.localTracks != nil,
		CameraOn:   c.cameraOn,
		MicOn:      c.micOn,
		Sessions:   make([]SessionInfo, 0, len(c.sessions)),
	}
	for _, s := range c.sessions {
		snap.Sessions = append(snap.Sessions, SessionInfo{
			PeerID:       s.peerID,
			Role:         s.role,
			State:        s.state,
			RemoteStream: s.remoteStream,
		})
		if s.remoteStream {
			snap.RemoteStreamAvailable = true
		}
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].PeerID < snap.Sessions[j].PeerID })

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	if c.onChange != nil {
		c.onChange(snap)
	}
}
