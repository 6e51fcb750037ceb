package model

import "time"

type (
	Chat struct {
		ID        string    `bson:"_id" json:"id"`
		Name      string    `bson:"name" json:"name"`
		IsGroup   bool      `bson:"is_group" json:"isGroup"`
		MemberIDs []string  `bson:"member_ids" json:"memberIds"`
		CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	}

	// ChatView is the denormalized snapshot served to callers: chat
	// metadata joined with its members and message list. Cached copies
	// hold messages in ciphertext form; decryption happens at the edge.
	ChatView struct {
		Chat     Chat          `json:"chat"`
		Members  []User        `json:"members"`
		Messages []MessageView `json:"messages"`
	}
)
