// Package sfu implements the Selective Forwarding Unit coordination plane:
// the Publisher/Consumer media-transport peers and the Router that owns
// their registries and the per-binding RTP forwarding task (spec §4.2-4.4).
package sfu

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-sfu/core/internal/metrics"
)

// Router owns the Publisher and Consumer registries exclusively (spec §3
// Ownership). Sessions only ever hold user-id/consumer-id handles.
type Router struct {
	iceServers []webrtc.ICEServer
	log        *zap.Logger

	pubMu sync.RWMutex
	pubs  map[string]*Publisher

	consMu sync.RWMutex
	conss  map[string]*Consumer
}

// NewRouter creates a Router that hands the given STUN servers to every
// Publisher/Consumer peer it constructs.
func NewRouter(stunURLs []string, log *zap.Logger) *Router {
	var servers []webrtc.ICEServer
	for _, u := range stunURLs {
		if u != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &Router{
		iceServers: servers,
		log:        log,
		pubs:       make(map[string]*Publisher),
		conss:      make(map[string]*Consumer),
	}
}

// AddPublisher creates a Publisher for userID, registers it, and returns
// its SDP offer. Re-registration under the same user-id overwrites the
// prior entry silently (spec §4.2 tie-break note); the caller is
// responsible for closing any previous publisher first if that matters to
// it — the Router itself does not auto-close on overwrite, matching the
// spec's stated preference for overwrite semantics over leak avoidance.
func (r *Router) AddPublisher(userID, name string) (string, error) {
	pub, offer, err := NewPublisher(userID, name, r.iceServers, r.log)
	if err != nil {
		return "", err
	}

	r.pubMu.Lock()
	r.pubs[userID] = pub
	n := len(r.pubs)
	r.pubMu.Unlock()
	metrics.SetPublishers(n)

	r.log.Info("publisher registered", zap.String("user_id", userID))
	return offer, nil
}

// SetPublisherAnswer applies the remote SDP answer for userID's publisher
// and returns its track-id if already resolved.
func (r *Router) SetPublisherAnswer(userID, sdp string) (string, bool, error) {
	pub, ok := r.getPublisher(userID)
	if !ok {
		return "", false, fmt.Errorf("publisher not found for user: %s", userID)
	}
	if err := pub.SetAnswer(sdp); err != nil {
		return "", false, err
	}
	trackID, _, ok := pub.Track()
	return trackID, ok, nil
}

// GetPublisherTrackId polls userID's publisher for a resolved track-id up
// to maxAttempts times, sleeping interval after each miss, so it waits at
// most maxAttempts*interval in total (spec §4.2, §5: the only
// explicit timeout in the system). It returns ("", false) if the publisher
// never resolves a track within the bound, or never existed.
func (r *Router) GetPublisherTrackId(userID string, maxAttempts int, interval time.Duration) (string, bool) {
	for i := 0; i < maxAttempts; i++ {
		if trackID, ok := r.PublisherTrackID(userID); ok {
			return trackID, true
		}
		time.Sleep(interval)
	}
	return "", false
}

// PublisherTrackID reports userID's publisher's resolved track-id with no
// retry. Used to check already-published room members at join time (spec
// §8 seed scenarios 1-2: a joiner must learn about publishers that resolved
// before it arrived), where a blocking poll would be the wrong tool.
func (r *Router) PublisherTrackID(userID string) (string, bool) {
	pub, ok := r.getPublisher(userID)
	if !ok {
		return "", false
	}
	trackID, _, ok := pub.Track()
	return trackID, ok
}

// RemovePublisher closes and removes userID's publisher. Safe if absent.
func (r *Router) RemovePublisher(userID string) {
	r.pubMu.Lock()
	pub, ok := r.pubs[userID]
	if ok {
		delete(r.pubs, userID)
	}
	n := len(r.pubs)
	r.pubMu.Unlock()
	if !ok {
		return
	}
	metrics.SetPublishers(n)
	if err := pub.Close(); err != nil {
		r.log.Warn("publisher close error", zap.String("user_id", userID), zap.Error(err))
	}
	r.log.Info("publisher removed", zap.String("user_id", userID))
}

// AddConsumer creates a Consumer binding subscriberUserID to
// publisherUserID's inbound track. It fails fast — never waits — if the
// publisher does not exist or has no resolved track yet (spec §4.2: "the
// operation fails rather than waits"; the caller is responsible for
// sequencing NewPublisher after track resolution so this race does not
// arise in practice).
func (r *Router) AddConsumer(publisherUserID, subscriberUserID string) (string, string, error) {
	pub, ok := r.getPublisher(publisherUserID)
	if !ok {
		return "", "", fmt.Errorf("publisher not found: %s", publisherUserID)
	}
	_, track, ok := pub.Track()
	if !ok {
		return "", "", fmt.Errorf("publisher %s has no track yet", publisherUserID)
	}

	consumerID := uuid.NewString()
	cons, offer, err := NewConsumer(consumerID, publisherUserID, subscriberUserID, track, r.iceServers, r.log)
	if err != nil {
		return "", "", err
	}

	r.consMu.Lock()
	r.conss[consumerID] = cons
	n := len(r.conss)
	r.consMu.Unlock()
	metrics.SetConsumers(n)

	go forwardRTP(consumerID, track, cons.outbound, r.log)

	r.log.Info("consumer registered", zap.String("consumer_id", consumerID), zap.String("publisher_user_id", publisherUserID), zap.String("subscriber_user_id", subscriberUserID))
	return consumerID, offer, nil
}

// SetConsumerAnswer applies the remote SDP answer for consumerID.
func (r *Router) SetConsumerAnswer(consumerID, sdp string) error {
	cons, ok := r.getConsumer(consumerID)
	if !ok {
		return fmt.Errorf("consumer not found: %s", consumerID)
	}
	return cons.SetAnswer(sdp)
}

// RemoveConsumersForSubscriber closes and removes every consumer whose
// subscriber is subscriberUserID. Safe if none exist.
func (r *Router) RemoveConsumersForSubscriber(subscriberUserID string) {
	r.consMu.Lock()
	var toClose []*Consumer
	for id, cons := range r.conss {
		if cons.SubscriberUserID == subscriberUserID {
			toClose = append(toClose, cons)
			delete(r.conss, id)
		}
	}
	n := len(r.conss)
	r.consMu.Unlock()
	if len(toClose) == 0 {
		return
	}
	metrics.SetConsumers(n)
	for _, cons := range toClose {
		if err := cons.Close(); err != nil {
			r.log.Warn("consumer close error", zap.String("consumer_id", cons.ID), zap.Error(err))
		}
		r.log.Info("consumer removed", zap.String("consumer_id", cons.ID))
	}
}

// AddPublisherIceCandidate ingests a remote ICE candidate for userID's
// publisher. Unknown target is a recoverable warning (spec §7), signaled to
// the caller as an error so the Session Controller can log it.
func (r *Router) AddPublisherIceCandidate(userID string, candidate webrtc.ICECandidateInit) error {
	pub, ok := r.getPublisher(userID)
	if !ok {
		return fmt.Errorf("publisher not found: %s", userID)
	}
	return pub.AddICECandidate(candidate)
}

// AddConsumerIceCandidate ingests a remote ICE candidate for consumerID.
func (r *Router) AddConsumerIceCandidate(consumerID string, candidate webrtc.ICECandidateInit) error {
	cons, ok := r.getConsumer(consumerID)
	if !ok {
		return fmt.Errorf("consumer not found: %s", consumerID)
	}
	return cons.AddICECandidate(candidate)
}

func (r *Router) getPublisher(userID string) (*Publisher, bool) {
	r.pubMu.RLock()
	defer r.pubMu.RUnlock()
	pub, ok := r.pubs[userID]
	return pub, ok
}

func (r *Router) getConsumer(consumerID string) (*Consumer, bool) {
	r.consMu.RLock()
	defer r.consMu.RUnlock()
	cons, ok := r.conss[consumerID]
	return cons, ok
}
