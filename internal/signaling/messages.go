// Package signaling implements the Session Controller: the per-client
// control dialogue described in spec §4.1. Each control-channel frame is a
// single JSON object carrying a "type" discriminator plus case-specific
// fields (spec §6); this file defines every record type named there.
package signaling

import "encoding/json"

// envelope is used only to peek at an inbound frame's discriminator before
// unmarshaling it into the matching concrete type.
type envelope struct {
	Type string `json:"type"`
}

// Participant is one member of a room as reported in RoomJoined.
type Participant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Inbound record types (client -> server).

type registerMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// create_room, leave_room, create_publisher, and ping carry no fields
// beyond the type discriminator itself, so dispatch reads env.Type alone
// and never unmarshals into a dedicated struct for them.

type joinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type publishAudioMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type createConsumerMsg struct {
	Type            string `json:"type"`
	PublisherUserID string `json:"publisher_user_id"`
}

type consumerAnswerMsg struct {
	Type       string `json:"type"`
	ConsumerID string `json:"consumer_id"`
	SDP        string `json:"sdp"`
}

type publisherIceCandidateMsg struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
}

type consumerIceCandidateMsg struct {
	Type       string          `json:"type"`
	ConsumerID string          `json:"consumer_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

// Outbound record types (server -> client).

type registeredMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type roomJoinedMsg struct {
	Type         string        `json:"type"`
	RoomID       string        `json:"room_id"`
	Participants []Participant `json:"participants"`
}

type roomLeftMsg struct {
	Type string `json:"type"`
}

type userJoinedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

type userLeftMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type publisherCreatedMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type audioPublishedMsg struct {
	Type    string `json:"type"`
	TrackID string `json:"track_id"`
}

type newPublisherMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type consumerCreatedMsg struct {
	Type            string `json:"type"`
	ConsumerID      string `json:"consumer_id"`
	PublisherUserID string `json:"publisher_user_id"`
	SDP             string `json:"sdp"`
}

type pongMsg struct {
	Type string `json:"type"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
