package signaling

import "github.com/aura-sfu/core/internal/directory"

// fanOut delivers record to every member in members except skip (if
// non-empty). Delivery to each sink is independent and unordered across
// members (spec §5: "no cross-peer ordering is guaranteed" for fan-out).
// A member whose User entry has already been removed (e.g. raced with its
// own disconnect) is silently skipped.
func fanOut(users *directory.Users, members []directory.Member, skip string, record interface{}) {
	for _, m := range members {
		if m.ID == skip {
			continue
		}
		if u, ok := users.Get(m.ID); ok {
			u.Sink.Send(record)
		}
	}
}

// sendTo delivers record to exactly one user-id, if it still has a live
// session. Used in Session.handleJoinRoom to back-fill NewPublisher for
// each already-published existing member, since that notification would
// otherwise only ever reach peers who were already in the room at publish
// time.
func sendTo(users *directory.Users, userID string, record interface{}) {
	if u, ok := users.Get(userID); ok {
		u.Sink.Send(record)
	}
}
