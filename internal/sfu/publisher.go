package sfu

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Publisher owns one media transport accepting a single inbound audio
// track from a participant. The server is always the SDP offerer (spec
// §6): it builds a receive-only audio transceiver, waits for ICE gathering
// to finish, and hands the caller a complete (non-trickle) offer. The
// inbound track itself arrives asynchronously once the browser answers and
// ICE connects, which is why Publisher's track fields are guarded
// separately from construction.
type Publisher struct {
	UserID string
	Name   string

	pc  *webrtc.PeerConnection
	log *zap.Logger

	mu      sync.RWMutex
	trackID string
	track   *webrtc.TrackRemote
}

// NewPublisher creates the publisher's peer connection, attaches a
// receive-only audio transceiver, and returns a complete SDP offer once ICE
// gathering has terminated.
func NewPublisher(userID, name string, iceServers []webrtc.ICEServer, log *zap.Logger) (*Publisher, string, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, "", fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, "", fmt.Errorf("new peer connection: %w", err)
	}

	p := &Publisher{
		UserID: userID,
		Name:   name,
		pc:     pc,
		log:    log.With(zap.String("user_id", userID)),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Debug("publisher connection state", zap.String("state", s.String()))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		trackID := uuid.NewString()
		p.mu.Lock()
		p.trackID = trackID
		p.track = track
		p.mu.Unlock()
		p.log.Info("publisher track arrived", zap.String("track_id", trackID), zap.String("kind", track.Kind().String()))
	})

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("add recvonly transceiver: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("missing local description after gathering")
	}
	return p, local.SDP, nil
}

// SetAnswer applies the browser's SDP answer.
func (p *Publisher) SetAnswer(sdp string) error {
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddICECandidate ingests a remote ICE candidate. Failures here are
// recoverable warnings per spec §7, logged by the caller.
func (p *Publisher) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Track returns the resolved track-id and inbound track, if known yet.
func (p *Publisher) Track() (trackID string, track *webrtc.TrackRemote, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.track == nil {
		return "", nil, false
	}
	return p.trackID, p.track, true
}

// Close tears down the publisher's transport. Any forwarding task reading
// from this publisher's track observes end-of-stream on its next read.
func (p *Publisher) Close() error {
	return p.pc.Close()
}
