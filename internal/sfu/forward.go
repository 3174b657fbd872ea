package sfu

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-sfu/core/internal/metrics"
)

// rtpBufferSize is MTU-friendly; a packet larger than this makes
// TrackRemote.Read return a short-buffer error, which ends the forwarding
// task like any other read error.
const rtpBufferSize = 1500

var rtpBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, rtpBufferSize)
		return &b
	},
}

// forwardRTP is the per-consumer forwarding task (spec §4.2): read one RTP
// packet from the publisher's inbound track, write the raw bytes to the
// consumer's outbound track. The payload is not modified; the outbound
// track's Write sets the header's SSRC and payload type for its binding.
// It never mutates Router state and
// never returns an error to its caller — any read or write failure simply
// ends the loop, which the subscriber observes as a silent stream end
// (spec §7).
func forwardRTP(consumerID string, publisherTrack *webrtc.TrackRemote, outbound *webrtc.TrackLocalStaticRTP, log *zap.Logger) {
	log = log.With(zap.String("consumer_id", consumerID))
	log.Info("forwarding started")

	var forwarded uint64
	for {
		ptr := rtpBufferPool.Get().(*[]byte)
		buf := *ptr

		n, _, err := publisherTrack.Read(buf)
		if err != nil {
			rtpBufferPool.Put(ptr)
			metrics.IncForwardingError("read")
			log.Info("forwarding stopped: read error", zap.Error(err), zap.Uint64("packets_forwarded", forwarded))
			return
		}

		if _, err := outbound.Write(buf[:n]); err != nil {
			rtpBufferPool.Put(ptr)
			metrics.IncForwardingError("write")
			log.Info("forwarding stopped: write error", zap.Error(err), zap.Uint64("packets_forwarded", forwarded))
			return
		}

		rtpBufferPool.Put(ptr)
		forwarded++
		metrics.IncForwarded(consumerID)
		if forwarded%1000 == 0 {
			log.Debug("forwarding progress", zap.Uint64("packets_forwarded", forwarded))
		}
	}
}
