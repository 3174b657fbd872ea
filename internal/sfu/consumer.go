package sfu

import (
	"fmt"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Consumer owns one media transport delivering a single publisher's audio
// track to one subscriber. Its outbound track's codec capability mirrors
// the source track at creation time and is never renegotiated (spec §4.2:
// "it is not renegotiated if the publisher track changes"). The server is
// the SDP offerer here too.
type Consumer struct {
	ID               string
	PublisherUserID  string
	SubscriberUserID string

	pc       *webrtc.PeerConnection
	outbound *webrtc.TrackLocalStaticRTP
	log      *zap.Logger
}

// NewConsumer creates the consumer's peer connection with a single
// send-only audio track copied from publisherTrack's codec capability, and
// returns a complete SDP offer once ICE gathering has terminated. It does
// not start the forwarding task; callers do that once the consumer is
// registered (see Router.AddConsumer).
func NewConsumer(id, publisherUserID, subscriberUserID string, publisherTrack *webrtc.TrackRemote, iceServers []webrtc.ICEServer, log *zap.Logger) (*Consumer, string, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, "", fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, "", fmt.Errorf("new peer connection: %w", err)
	}

	outbound, err := webrtc.NewTrackLocalStaticRTP(
		publisherTrack.Codec().RTPCodecCapability,
		fmt.Sprintf("audio-%s", id),
		fmt.Sprintf("stream-%s", publisherUserID),
	)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("new local track: %w", err)
	}

	if _, err := pc.AddTrack(outbound); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("add track: %w", err)
	}

	c := &Consumer{
		ID:               id,
		PublisherUserID:  publisherUserID,
		SubscriberUserID: subscriberUserID,
		pc:               pc,
		outbound:         outbound,
		log:              log.With(zap.String("consumer_id", id), zap.String("publisher_user_id", publisherUserID), zap.String("subscriber_user_id", subscriberUserID)),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debug("consumer connection state", zap.String("state", s.String()))
	})

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
	return c, local.SDP, nil
}

// SetAnswer applies the subscriber's SDP answer, completing negotiation.
func (c *Consumer) SetAnswer(sdp string) error {
	err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddICECandidate ingests a remote ICE candidate.
func (c *Consumer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

// Close tears down the peer connection. The forwarding task bound to this
// consumer observes a write failure on its next packet and exits promptly
// (spec §4.4: "terminates its forwarding task promptly via transport
// shutdown").
func (c *Consumer) Close() error {
	return c.pc.Close()
}
