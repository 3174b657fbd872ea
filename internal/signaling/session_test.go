package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-sfu/core/config"
	"github.com/aura-sfu/core/internal/directory"
)

// fakeRouter is a router double: publishers resolve a track-id the instant
// AddPublisher+SetPublisherAnswer is called, with no real ICE/SDP negotiation,
// so tests can drive Session dispatch logic without a media stack.
type fakeRouter struct {
	mu      sync.Mutex
	tracks  map[string]string // userID -> track-id, once "published"
	nextErr error
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{tracks: make(map[string]string)}
}

func (f *fakeRouter) AddPublisher(userID, name string) (string, error) {
	return "offer-sdp", nil
}

func (f *fakeRouter) SetPublisherAnswer(userID, sdp string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trackID := "track-" + userID
	f.tracks[userID] = trackID
	return trackID, true, nil
}

func (f *fakeRouter) GetPublisherTrackId(userID string, maxAttempts int, interval time.Duration) (string, bool) {
	return f.PublisherTrackID(userID)
}

func (f *fakeRouter) PublisherTrackID(userID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trackID, ok := f.tracks[userID]
	return trackID, ok
}

func (f *fakeRouter) RemovePublisher(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracks, userID)
}

func (f *fakeRouter) AddConsumer(publisherUserID, subscriberUserID string) (string, string, error) {
	return "consumer-" + publisherUserID + "-" + subscriberUserID, "consumer-offer-sdp", nil
}

func (f *fakeRouter) SetConsumerAnswer(consumerID, sdp string) error {
	return f.nextErr
}

func (f *fakeRouter) RemoveConsumersForSubscriber(subscriberUserID string) {}

func (f *fakeRouter) AddPublisherIceCandidate(userID string, candidate webrtc.ICECandidateInit) error {
	return nil
}

func (f *fakeRouter) AddConsumerIceCandidate(consumerID string, candidate webrtc.ICECandidateInit) error {
	return nil
}

// testHarness wires one Session per simulated client against shared, real
// directory registries and a shared fake Router, bypassing ServeWS/the real
// websocket entirely: dispatch is called directly and outbound records are
// drained from each Session's own send channel.
type testHarness struct {
	deps Deps
}

func newTestHarness() *testHarness {
	return &testHarness{
		deps: Deps{
			Router:    newFakeRouter(),
			Users:     directory.NewUsers(),
			Rooms:     directory.NewRooms(),
			UserRooms: directory.NewUserRooms(),
			Config: config.SessionConfig{
				OutboundBufferSize:   32,
				TrackPollMaxAttempts: 3,
				TrackPollInterval:    time.Millisecond,
			},
			Logger: zap.NewNop(),
		},
	}
}

func (h *testHarness) newClient() *Session {
	return &Session{
		deps:        h.deps,
		log:         h.deps.Logger,
		send:        make(chan interface{}, h.deps.Config.OutboundBufferSize),
		consumerIDs: make(map[string]struct{}),
	}
}

// attachFakeConn gives s a real *websocket.Conn backed by an httptest
// server, so handleDisconnect's unconditional conn.Close() has something
// real to close. Only tests that exercise handleDisconnect directly need
// this; dispatch itself never touches s.conn.
func attachFakeConn(t *testing.T, s *Session) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial fake conn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	s.conn = conn
}

func (s *Session) drain() []interface{} {
	var out []interface{}
	for {
		select {
		case r := <-s.send:
			out = append(out, r)
		default:
			return out
		}
	}
}

func send(s *Session, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.dispatch(data)
}

func typesOf(records []interface{}) []string {
	out := make([]string, len(records))
	for i, r := range records {
		switch v := r.(type) {
		case registeredMsg:
			out[i] = v.Type
		case roomJoinedMsg:
			out[i] = v.Type
		case roomLeftMsg:
			out[i] = v.Type
		case userJoinedMsg:
			out[i] = v.Type
		case userLeftMsg:
			out[i] = v.Type
		case publisherCreatedMsg:
			out[i] = v.Type
		case audioPublishedMsg:
			out[i] = v.Type
		case newPublisherMsg:
			out[i] = v.Type
		case consumerCreatedMsg:
			out[i] = v.Type
		case pongMsg:
			out[i] = v.Type
		case errorMsg:
			out[i] = v.Type
		default:
			out[i] = "unknown"
		}
	}
	return out
}

func containsType(records []interface{}, want string) bool {
	for _, t := range typesOf(records) {
		if t == want {
			return true
		}
	}
	return false
}

func register(h *testHarness, name string) *Session {
	s := h.newClient()
	send(s, registerMsg{Type: "register", Name: name})
	recs := s.drain()
	if len(recs) != 1 {
		panic("expected exactly one record after register")
	}
	reg, ok := recs[0].(registeredMsg)
	if !ok {
		panic("expected registeredMsg")
	}
	s.userID = reg.UserID
	return s
}

func publish(s *Session) {
	send(s, struct {
		Type string `json:"type"`
	}{Type: "create_publisher"})
	s.drain()
	send(s, publishAudioMsg{Type: "publish_audio", SDP: "answer-sdp"})
}

// TestSessionTwoPartyCall drives spec §8 seed scenario 1: A registers,
// creates a room, publishes; B registers, joins, publishes. Each side must
// learn about the other's track via NewPublisher, including B learning about
// A's already-resolved publisher at join time.
func TestSessionTwoPartyCall(t *testing.T) {
	h := newTestHarness()
	a := register(h, "alice")
	b := register(h, "bob")

	send(a, struct {
		Type string `json:"type"`
	}{Type: "create_room"})
	roomRecs := a.drain()
	roomJoined, ok := roomRecs[0].(roomJoinedMsg)
	if !ok {
		t.Fatalf("expected roomJoinedMsg, got %#v", roomRecs)
	}
	roomID := roomJoined.RoomID

	publish(a)
	aRecs := a.drain()
	if !containsType(aRecs, "audio_published") {
		t.Fatalf("expected audio_published for A, got %v", typesOf(aRecs))
	}

	send(b, joinRoomMsg{Type: "join_room", RoomID: roomID})
	bJoinRecs := b.drain()
	if !containsType(bJoinRecs, "room_joined") {
		t.Fatalf("expected room_joined for B, got %v", typesOf(bJoinRecs))
	}
	if !containsType(bJoinRecs, "new_publisher") {
		t.Fatalf("expected B to receive new_publisher for A's already-resolved track at join time, got %v", typesOf(bJoinRecs))
	}
	for _, r := range bJoinRecs {
		if np, ok := r.(newPublisherMsg); ok && np.UserID != a.userID {
			t.Fatalf("expected new_publisher for A (%s), got %s", a.userID, np.UserID)
		}
	}

	aAfterJoin := a.drain()
	if !containsType(aAfterJoin, "user_joined") {
		t.Fatalf("expected A to see user_joined for B, got %v", typesOf(aAfterJoin))
	}

	publish(b)
	bRecs := b.drain()
	if !containsType(bRecs, "audio_published") {
		t.Fatalf("expected audio_published for B, got %v", typesOf(bRecs))
	}

	aFinal := a.drain()
	if !containsType(aFinal, "new_publisher") {
		t.Fatalf("expected A to receive new_publisher for B once B publishes, got %v", typesOf(aFinal))
	}
}

// TestSessionLateJoiner drives spec §8 seed scenario 2: C joins a room where
// both A and B have already published, and must receive NewPublisher for
// both at join time, not merely RoomJoined/UserJoined.
func TestSessionLateJoiner(t *testing.T) {
	h := newTestHarness()
	a := register(h, "alice")
	b := register(h, "bob")
	c := register(h, "carol")

	send(a, struct {
		Type string `json:"type"`
	}{Type: "create_room"})
	roomJoined := a.drain()[0].(roomJoinedMsg)
	roomID := roomJoined.RoomID

	publish(a)
	a.drain()

	send(b, joinRoomMsg{Type: "join_room", RoomID: roomID})
	b.drain()
	a.drain()
	publish(b)
	b.drain()
	a.drain()

	send(c, joinRoomMsg{Type: "join_room", RoomID: roomID})
	cRecs := c.drain()

	gotFrom := map[string]bool{}
	for _, r := range cRecs {
		if np, ok := r.(newPublisherMsg); ok {
			gotFrom[np.UserID] = true
		}
	}
	if !gotFrom[a.userID] || !gotFrom[b.userID] {
		t.Fatalf("expected C to receive new_publisher for both A and B at join time, got %v", typesOf(cRecs))
	}
}

// TestSessionConsumerAnswerUnknownConsumerLogsNoError verifies spec §7:
// a consumer_answer for an id the session never registered is a recoverable
// resource-not-found case, not a protocol Error reply (review fix: this used
// to send an Error record).
func TestSessionConsumerAnswerUnknownConsumerLogsNoError(t *testing.T) {
	h := newTestHarness()
	a := register(h, "alice")

	send(a, consumerAnswerMsg{Type: "consumer_answer", ConsumerID: "never-registered", SDP: "answer-sdp"})
	recs := a.drain()
	if containsType(recs, "error") {
		t.Fatalf("expected no error record for unknown consumer_answer, got %v", typesOf(recs))
	}
	if len(recs) != 0 {
		t.Fatalf("expected no outbound record at all, got %v", typesOf(recs))
	}
}

// TestSessionConsumerAnswerRouterRejectionLogsNoError verifies the same
// resource-not-found taxonomy applies when the Router itself rejects the
// answer (e.g. its own registry lost the consumer), not just when the
// Session's local id set misses it.
func TestSessionConsumerAnswerRouterRejectionLogsNoError(t *testing.T) {
	h := newTestHarness()
	fr := h.deps.Router.(*fakeRouter)
	a := register(h, "alice")

	send(a, struct {
		Type string `json:"type"`
	}{Type: "create_publisher"})
	a.drain()
	send(a, createConsumerMsg{Type: "create_consumer", PublisherUserID: a.userID})
	created := a.drain()
	cc, ok := created[0].(consumerCreatedMsg)
	if !ok {
		t.Fatalf("expected consumerCreatedMsg, got %#v", created)
	}

	fr.nextErr = errConsumerGone

	send(a, consumerAnswerMsg{Type: "consumer_answer", ConsumerID: cc.ConsumerID, SDP: "answer-sdp"})
	recs := a.drain()
	if containsType(recs, "error") {
		t.Fatalf("expected no error record when Router rejects a known consumer-id, got %v", typesOf(recs))
	}
}

func TestSessionCreateRoomRequiresRegistration(t *testing.T) {
	h := newTestHarness()
	s := h.newClient()
	send(s, struct {
		Type string `json:"type"`
	}{Type: "create_room"})
	recs := s.drain()
	if !containsType(recs, "error") {
		t.Fatalf("expected error creating a room before registering, got %v", typesOf(recs))
	}
}

func TestSessionJoinUnknownRoom(t *testing.T) {
	h := newTestHarness()
	a := register(h, "alice")
	send(a, joinRoomMsg{Type: "join_room", RoomID: "no-such-room"})
	recs := a.drain()
	if !containsType(recs, "error") {
		t.Fatalf("expected error joining a nonexistent room, got %v", typesOf(recs))
	}
}

func TestSessionDisconnectRemovesFromRoomAndNotifiesPeers(t *testing.T) {
	h := newTestHarness()
	a := register(h, "alice")
	b := register(h, "bob")

	send(a, struct {
		Type string `json:"type"`
	}{Type: "create_room"})
	roomJoined := a.drain()[0].(roomJoinedMsg)
	send(b, joinRoomMsg{Type: "join_room", RoomID: roomJoined.RoomID})
	b.drain()
	a.drain()

	attachFakeConn(t, b)
	b.handleDisconnect()

	aRecs := a.drain()
	if !containsType(aRecs, "user_left") {
		t.Fatalf("expected A to see user_left after B disconnects, got %v", typesOf(aRecs))
	}
	if _, ok := h.deps.Users.Get(b.userID); ok {
		t.Fatal("expected B removed from the User table after disconnect")
	}
}

type stubErr string

func (e stubErr) Error() string { return string(e) }

const errConsumerGone = stubErr("consumer not found")
