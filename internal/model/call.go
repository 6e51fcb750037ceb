package model

import "time"

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallAccepted  CallStatus = "accepted"
	CallRejected  CallStatus = "rejected"
	CallMissed    CallStatus = "missed"
)

// Terminal reports whether a call can no longer change status.
func (s CallStatus) Terminal() bool {
	return s == CallAccepted || s == CallRejected || s == CallMissed
}

type (
	Call struct {
		ID             string     `bson:"_id" json:"callId"`
		InitiatorID    string     `bson:"initiator_id" json:"initiatorId"`
		ParticipantIDs []string   `bson:"participant_ids" json:"participantIds"`
		IsGroup        bool       `bson:"is_group" json:"isGroup"`
		Status         CallStatus `bson:"status" json:"status"`
		CreatedAt      time.Time  `bson:"created_at" json:"createdAt"`
	}
)

// Involves reports whether userID is the initiator or a callee.
func (c *Call) Involves(userID string) bool {
	return c.InitiatorID == userID || c.HasParticipant(userID)
}

// HasParticipant reports whether userID is one of the callees.
func (c *Call) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
