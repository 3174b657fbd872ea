package signaling

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-sfu/core/config"
	"github.com/aura-sfu/core/internal/directory"
	"github.com/aura-sfu/core/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // control channel has no auth/origin policy in this core; a real deployment fronts it with its own gateway
	},
}

var activeSessions int64

// state is the Session Controller's state machine (spec §4.1):
// Unregistered -> Registered -> InRoom.
type state int

const (
	stateUnregistered state = iota
	stateRegistered
	stateInRoom
)

// router is the subset of *sfu.Router's exported surface the Session
// Controller drives. *sfu.Router satisfies this implicitly; the interface
// exists so tests can exercise session dispatch logic against a fake
// without standing up real media transports.
type router interface {
	AddPublisher(userID, name string) (string, error)
	SetPublisherAnswer(userID, sdp string) (string, bool, error)
	GetPublisherTrackId(userID string, maxAttempts int, interval time.Duration) (string, bool)
	PublisherTrackID(userID string) (string, bool)
	RemovePublisher(userID string)
	AddConsumer(publisherUserID, subscriberUserID string) (string, string, error)
	SetConsumerAnswer(consumerID, sdp string) error
	RemoveConsumersForSubscriber(subscriberUserID string)
	AddPublisherIceCandidate(userID string, candidate webrtc.ICECandidateInit) error
	AddConsumerIceCandidate(consumerID string, candidate webrtc.ICECandidateInit) error
}

// Deps bundles the shared, process-wide collaborators every Session needs:
// the SFU Router and the three Room-Directory registries.
type Deps struct {
	Router    router
	Users     *directory.Users
	Rooms     *directory.Rooms
	UserRooms *directory.UserRooms
	Config    config.SessionConfig
	Logger    *zap.Logger
}

// Session owns one client's control dialogue end to end: state machine,
// dispatch, and disconnect cleanup (spec §4.1). All of Session's own fields
// are only ever touched from the readPump goroutine, so they need no lock
// of their own — only the shared registries they call into do.
type Session struct {
	deps Deps
	conn *websocket.Conn
	log  *zap.Logger
	send chan interface{}

	state        state
	userID       string
	name         string
	roomID       string
	hasPublisher bool
	consumerIDs  map[string]struct{}
}

// ServeWS upgrades the HTTP request to the control WebSocket and runs the
// resulting Session until the connection closes.
func ServeWS(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s := &Session{
			deps:        deps,
			conn:        conn,
			log:         deps.Logger,
			send:        make(chan interface{}, deps.Config.OutboundBufferSize),
			consumerIDs: make(map[string]struct{}),
		}
		s.run()
	}
}

func (s *Session) run() {
	atomic.AddInt64(&activeSessions, 1)
	metrics.SetSessions(int(atomic.LoadInt64(&activeSessions)))
	go s.writePump()
	s.readPump()
}

// Send implements directory.Sink. Delivery is best-effort and non-blocking:
// a session whose outbound buffer is full drops the message rather than
// stall the sender (spec §5: sessions never await while holding another
// session's attention).
func (s *Session) Send(record interface{}) {
	select {
	case s.send <- record:
	default:
		s.log.Warn("dropping outbound message: send buffer full", zap.String("user_id", s.userID))
	}
}

func (s *Session) readPump() {
	defer s.handleDisconnect()

	s.conn.SetReadLimit(65536)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.deps.Config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.deps.Config.PongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.deps.Config.PongWait))
		s.dispatch(data)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.deps.Config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case record, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(record)
			if err != nil {
				s.log.Error("marshal outbound record failed", zap.Error(err))
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch parses one inbound frame and routes it by its type discriminator
// (spec §6). An unrecognized or malformed record yields an Error reply
// without closing the channel, except malformed ICE candidate records,
// which are only logged as warnings.
func (s *Session) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError("malformed message")
		return
	}

	switch env.Type {
	case "register":
		var m registerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.sendError("malformed register")
			return
		}
		s.handleRegister(m)
	case "create_room":
		s.handleCreateRoom()
	case "join_room":
		var m joinRoomMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.sendError("malformed join_room")
			return
		}
		s.handleJoinRoom(m)
	case "leave_room":
		s.handleLeaveRoom()
	case "create_publisher":
		s.handleCreatePublisher()
	case "publish_audio":
		var m publishAudioMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.sendError("malformed publish_audio")
			return
		}
		s.handlePublishAudio(m)
	case "create_consumer":
		var m createConsumerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.sendError("malformed create_consumer")
			return
		}
		s.handleCreateConsumer(m)
	case "consumer_answer":
		var m consumerAnswerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.sendError("malformed consumer_answer")
			return
		}
		s.handleConsumerAnswer(m)
	case "publisher_ice_candidate":
		var m publisherIceCandidateMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Warn("malformed publisher_ice_candidate", zap.Error(err))
			return
		}
		s.handlePublisherIce(m)
	case "consumer_ice_candidate":
		var m consumerIceCandidateMsg
		if err := json.Unmarshal(data, &m); err != nil {
			s.log.Warn("malformed consumer_ice_candidate", zap.Error(err))
			return
		}
		s.handleConsumerIce(m)
	case "ping":
		s.Send(pongMsg{Type: "pong"})
	default:
		s.sendError(fmt.Sprintf("unknown message type: %q", env.Type))
	}
}

func (s *Session) handleRegister(m registerMsg) {
	if s.state != stateUnregistered {
		s.sendError("already registered")
		return
	}
	userID := uuid.NewString()
	s.userID = userID
	s.name = m.Name
	s.deps.Users.Add(userID, m.Name, s)
	s.state = stateRegistered
	s.log = s.log.With(zap.String("user_id", userID))
	s.Send(registeredMsg{Type: "registered", UserID: userID})
}

func (s *Session) handleCreateRoom() {
	if s.state != stateRegistered {
		s.sendError("must be registered and not already in a room")
		return
	}
	roomID := uuid.NewString()
	members := s.deps.Rooms.Create(roomID, s.userID, s.name)
	s.roomID = roomID
	s.deps.UserRooms.Set(s.userID, roomID)
	s.state = stateInRoom
	s.Send(roomJoinedMsg{Type: "room_joined", RoomID: roomID, Participants: toParticipants(members)})
}

func (s *Session) handleJoinRoom(m joinRoomMsg) {
	if s.state != stateRegistered {
		s.sendError("must be registered and not already in a room")
		return
	}
	all, existing, err := s.deps.Rooms.Join(m.RoomID, s.userID, s.name)
	if err != nil {
		s.sendError("room not found")
		return
	}
	s.roomID = m.RoomID
	s.deps.UserRooms.Set(s.userID, m.RoomID)
	s.state = stateInRoom
	s.Send(roomJoinedMsg{Type: "room_joined", RoomID: m.RoomID, Participants: toParticipants(all)})
	fanOut(s.deps.Users, existing, "", userJoinedMsg{Type: "user_joined", UserID: s.userID, Name: s.name})

	// Any existing member who has already published needs to be announced
	// to the joiner now, since PublishAudio's own NewPublisher fan-out
	// already happened before this session existed (spec §8 seed scenarios
	// 1-2: "the notifications come when A and B are already published, so
	// C sees them at join time").
	for _, member := range existing {
		if _, ok := s.deps.Router.PublisherTrackID(member.ID); ok {
			sendTo(s.deps.Users, s.userID, newPublisherMsg{Type: "new_publisher", UserID: member.ID})
		}
	}
}

func (s *Session) handleLeaveRoom() {
	if s.state != stateInRoom {
		s.sendError("not in a room")
		return
	}
	remaining, _ := s.deps.Rooms.Leave(s.roomID, s.userID)
	s.deps.UserRooms.Clear(s.userID)
	s.roomID = ""
	s.state = stateRegistered
	s.Send(roomLeftMsg{Type: "room_left"})
	fanOut(s.deps.Users, remaining, "", userLeftMsg{Type: "user_left", UserID: s.userID})
}

func (s *Session) handleCreatePublisher() {
	if s.state == stateUnregistered {
		s.sendError("must be registered")
		return
	}
	offer, err := s.deps.Router.AddPublisher(s.userID, s.name)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.hasPublisher = true
	s.Send(publisherCreatedMsg{Type: "publisher_created", SDP: offer})
}

// handlePublishAudio applies the browser's answer and, once the inbound
// track has resolved, announces it to the room. The AudioPublished reply is
// always enqueued strictly before NewPublisher is fanned out (spec §4.1,
// §8 publish-before-announce law) so a late subscriber can never race a
// CreateConsumer against a publisher whose track handle is still nil. If
// the track never resolves within the bounded poll, no NewPublisher is
// sent at all (spec §9 redesign of the "pending" placeholder).
func (s *Session) handlePublishAudio(m publishAudioMsg) {
	if !s.hasPublisher {
		s.sendError("no publisher to publish to")
		return
	}
	trackID, resolved, err := s.deps.Router.SetPublisherAnswer(s.userID, m.SDP)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	if !resolved {
		trackID, resolved = s.deps.Router.GetPublisherTrackId(s.userID, s.deps.Config.TrackPollMaxAttempts, s.deps.Config.TrackPollInterval)
	}
	if !resolved {
		s.sendError("publisher track did not resolve in time")
		return
	}

	s.Send(audioPublishedMsg{Type: "audio_published", TrackID: trackID})

	if s.state != stateInRoom {
		return
	}
	members, ok := s.deps.Rooms.Members(s.roomID)
	if !ok {
		return
	}
	fanOut(s.deps.Users, members, s.userID, newPublisherMsg{Type: "new_publisher", UserID: s.userID})
}

func (s *Session) handleCreateConsumer(m createConsumerMsg) {
	if s.state == stateUnregistered {
		s.sendError("must be registered")
		return
	}
	consumerID, offer, err := s.deps.Router.AddConsumer(m.PublisherUserID, s.userID)
	if err != nil {
		s.sendError(err.Error())
		return
	}
	s.consumerIDs[consumerID] = struct{}{}
	s.Send(consumerCreatedMsg{Type: "consumer_created", ConsumerID: consumerID, PublisherUserID: m.PublisherUserID, SDP: offer})
}

// handleConsumerAnswer never replies: a missing consumer-id, here or at the
// Router, is a resource-not-found case (spec §7: "Recoverable; logged as
// warning"), not a protocol error.
func (s *Session) handleConsumerAnswer(m consumerAnswerMsg) {
	if _, ok := s.consumerIDs[m.ConsumerID]; !ok {
		s.log.Warn("consumer_answer for unknown consumer", zap.String("consumer_id", m.ConsumerID))
		return
	}
	if err := s.deps.Router.SetConsumerAnswer(m.ConsumerID, m.SDP); err != nil {
		s.log.Warn("consumer answer rejected", zap.String("consumer_id", m.ConsumerID), zap.Error(err))
	}
}

func (s *Session) handlePublisherIce(m publisherIceCandidateMsg) {
	if s.state == stateUnregistered {
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Candidate, &cand); err != nil {
		s.log.Warn("malformed publisher ICE candidate", zap.Error(err))
		return
	}
	if err := s.deps.Router.AddPublisherIceCandidate(s.userID, cand); err != nil {
		s.log.Warn("publisher ICE candidate rejected", zap.Error(err))
	}
}

func (s *Session) handleConsumerIce(m consumerIceCandidateMsg) {
	if _, ok := s.consumerIDs[m.ConsumerID]; !ok {
		s.log.Warn("ICE candidate for unknown consumer", zap.String("consumer_id", m.ConsumerID))
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(m.Candidate, &cand); err != nil {
		s.log.Warn("malformed consumer ICE candidate", zap.Error(err))
		return
	}
	if err := s.deps.Router.AddConsumerIceCandidate(m.ConsumerID, cand); err != nil {
		s.log.Warn("consumer ICE candidate rejected", zap.Error(err))
	}
}

// handleDisconnect runs the teardown cascade in the order spec §4.1 names:
// own publisher, own consumers, room membership, user directory entry.
func (s *Session) handleDisconnect() {
	if s.hasPublisher {
		s.deps.Router.RemovePublisher(s.userID)
		s.hasPublisher = false
	}
	if s.userID != "" {
		s.deps.Router.RemoveConsumersForSubscriber(s.userID)
	}
	if s.state == stateInRoom {
		remaining, _ := s.deps.Rooms.Leave(s.roomID, s.userID)
		s.deps.UserRooms.Clear(s.userID)
		fanOut(s.deps.Users, remaining, "", userLeftMsg{Type: "user_left", UserID: s.userID})
		s.state = stateRegistered
	}
	if s.userID != "" {
		s.deps.Users.Remove(s.userID)
	}
	_ = s.conn.Close()
	atomic.AddInt64(&activeSessions, -1)
	metrics.SetSessions(int(atomic.LoadInt64(&activeSessions)))
}

func (s *Session) sendError(message string) {
	s.Send(errorMsg{Type: "error", Message: message})
}

func toParticipants(members []directory.Member) []Participant {
	out := make([]Participant, len(members))
	for i, m := range members {
		out[i] = Participant{UserID: m.ID, Name: m.Name}
	}
	return out
}
