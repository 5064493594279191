// Package media adapts pion/webrtc to the coordinator's Engine interface.
//
// It negotiates transport and hands out local sample tracks; capture,
// encoding and rendering are left to the caller.
package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/coordinator"
	"github.com/mossy-p/roomcall/internal/models"
)

var ErrForeignTrack = errors.New("track was not created by this engine")

type Options struct {
	// API is used as is when set; otherwise one is built with NewAPI.
	API           *webrtc.API
	ICEServers    []config.ICEServer
	LoggerFactory logging.LoggerFactory
	// StreamID groups the local tracks into one stream.
	StreamID string
}

type Engine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	streamID   string
	lf         logging.LoggerFactory
	log        logging.LeveledLogger
}

// NewAPI builds a webrtc API with the default codecs and the shared logger
// factory. net may be nil to use the host network.
func NewAPI(lf logging.LoggerFactory, net transport.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{LoggerFactory: lf}
	if net != nil {
		se.SetNet(net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

func NewEngine(opts Options) (*Engine, error) {
	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	api := opts.API
	if api == nil {
		var err error
		if api, err = NewAPI(lf, nil); err != nil {
			return nil, err
		}
	}
	streamID := opts.StreamID
	if streamID == "" {
		streamID = "roomcall"
	}

	servers := make([]webrtc.ICEServer, 0, len(opts.ICEServers))
	for _, s := range opts.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}

	return &Engine{
		api:        api,
		iceServers: servers,
		streamID:   streamID,
		lf:         lf,
		log:        lf.NewLogger("media"),
	}, nil
}

// LocalTracks creates one VP8 video and one Opus audio sample track.
func (e *Engine) LocalTracks(ctx context.Context) ([]coordinator.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	video, err := newLocalTrack(webrtc.MimeTypeVP8, "video", e.streamID)
	if err != nil {
		return nil, err
	}
	audio, err := newLocalTrack(webrtc.MimeTypeOpus, "audio", e.streamID)
	if err != nil {
		return nil, err
	}
	return []coordinator.Track{video, audio}, nil
}

func (e *Engine) NewPeerConnection(peerID string, l coordinator.Listener) (coordinator.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &peerConnection{
		peerID: peerID,
		pc:     pc,
		log:    e.log,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		l.OnICECandidate(candidateFromInit(c.ToJSON()))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.log.Debugf("remote %s track %s from %s", track.Kind(), track.ID(), peerID)
		p.remoteOnce.Do(l.OnRemoteStream)
		go drain(track)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.OnConnectionStateChange(connectionState(s))
	})
	return p, nil
}

type peerConnection struct {
	peerID     string
	pc         *webrtc.PeerConnection
	log        logging.LeveledLogger
	remoteOnce sync.Once
}

func (p *peerConnection) CreateOffer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	// Without local tracks the offer still needs media sections to receive.
	if len(p.pc.GetTransceivers()) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return "", fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *peerConnection) CreateAnswer(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (p *peerConnection) SetLocalDescription(ctx context.Context, desc models.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetLocalDescription(sessionDescription(desc))
}

func (p *peerConnection) SetRemoteDescription(ctx context.Context, desc models.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(sessionDescription(desc))
}

func (p *peerConnection) AddICECandidate(c models.ICECandidate) error {
	return p.pc.AddICECandidate(candidateInit(c))
}

func (p *peerConnection) AddTrack(t coordinator.Track) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return ErrForeignTrack
	}
	sender, err := p.pc.AddTrack(lt.track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", lt.kind, err)
	}

	// Read incoming RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func sessionDescription(desc models.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(desc.Type), SDP: desc.SDP}
}

// candidateInit converts a wire candidate. An empty mid or an out of range
// label is left unset rather than wrapped.
func candidateInit(c models.ICECandidate) webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.ID != "" {
		mid := c.ID
		init.SDPMid = &mid
	}
	if c.Label >= 0 && c.Label <= math.MaxUint16 {
		idx := uint16(c.Label)
		init.SDPMLineIndex = &idx
	}
	return init
}

func candidateFromInit(init webrtc.ICECandidateInit) models.ICECandidate {
	c := models.ICECandidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		c.ID = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		c.Label = int(*init.SDPMLineIndex)
	}
	return c
}

func connectionState(s webrtc.PeerConnectionState) coordinator.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return coordinator.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return coordinator.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return coordinator.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return coordinator.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return coordinator.ConnectionClosed
	}
	return coordinator.ConnectionNew
}
