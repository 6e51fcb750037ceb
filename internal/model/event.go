package model

import (
	"encoding/json"
	"fmt"
)

// Wire event types. Every frame on the signaling socket is a tagged object
// {type, ...fields}; the set of types is closed and checked at the boundary.
const (
	EventUserConnected    = "USER_CONNECTED"
	EventUserDisconnected = "USER_DISCONNECTED"

	EventCallOffer         = "callOffer"
	EventOffer             = "offer"
	EventCallAccepted      = "callAccepted"
	EventCallRejected      = "callRejected"
	EventCallMissed        = "callMissed"
	EventGroupCallOffer    = "groupCallOffer"
	EventGroupCallAccepted = "groupCallAccepted"
	EventGroupCallRejected = "groupCallRejected"

	EventNewMessage  = "newMessage"
	EventEditMessage = "editMessage"
)

type (
	// Event is the envelope every frame travels in. Payload is one of the
	// typed payload structs below, selected by Type.
	Event struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"-"`
	}

	PresencePayload struct {
		UserID     string `json:"userId"`
		Online     bool   `json:"online"`
		LastOnline int64  `json:"lastOnline,omitempty"`
	}

	CallOfferPayload struct {
		CallID         string   `json:"callId"`
		FromID         string   `json:"fromId"`
		ToID           string   `json:"toId,omitempty"`
		ParticipantIDs []string `json:"participantIds,omitempty"`
		IsGroup        bool     `json:"isGroup,omitempty"`
		SDP            string   `json:"sdp,omitempty"`
	}

	CallAnswerPayload struct {
		CallID string `json:"callId"`
		FromID string `json:"fromId"`
		ToID   string `json:"toId,omitempty"`
		SDP    string `json:"sdp,omitempty"`
	}

	MessagePayload struct {
		MessageID string `json:"messageId,omitempty"`
		ChatID    string `json:"chatId"`
		SenderID  string `json:"senderId,omitempty"`
		Body      string `json:"body"`
	}
)

// Encode flattens an event into its wire form: the payload's fields plus
// the type tag at the top level.
func Encode(eventType string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var flat map[string]any
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("flatten payload: %w", err)
	}
	flat["type"] = eventType

	return json.Marshal(flat)
}

// Decode reads the type tag and returns it with the raw frame for a second
// unmarshal into the matching payload struct. Unknown types are rejected.
func Decode(data []byte) (*Event, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}

	switch tag.Type {
	case EventCallOffer, EventOffer, EventCallAccepted, EventCallRejected,
		EventGroupCallOffer, EventGroupCallAccepted, EventGroupCallRejected,
		EventNewMessage, EventEditMessage:
		return &Event{Type: tag.Type, Payload: data}, nil
	case "":
		return nil, fmt.Errorf("frame has no type tag")
	default:
		return nil, fmt.Errorf("unknown event type %q", tag.Type)
	}
}
