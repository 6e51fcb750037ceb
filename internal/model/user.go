package model

import "time"

type (
	User struct {
		ID         string    `bson:"_id" json:"id"`
		Name       string    `bson:"name" json:"name"`
		Online     bool      `bson:"online" json:"online"`
		LastOnline time.Time `bson:"last_online" json:"lastOnline"`
	}
)
