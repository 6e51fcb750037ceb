package model

import (
	"time"

	"rtchat/internal/cryptographic/encryption"
)

type (
	Message struct {
		ID       string              `bson:"_id" json:"id"`
		ChatID   string              `bson:"chat_id" json:"chatId"`
		SenderID string              `bson:"sender_id" json:"senderId"`
		Body     encryption.Envelope `bson:"body" json:"body"`

		AttachmentID string     `bson:"attachment_id,omitempty" json:"attachmentId,omitempty"`
		CreatedAt    time.Time  `bson:"created_at" json:"createdAt"`
		EditedAt     *time.Time `bson:"edited_at,omitempty" json:"editedAt,omitempty"`
	}

	// Attachment metadata is immutable once created, which is why it gets
	// its own longer-lived cache key.
	Attachment struct {
		ID        string    `bson:"_id" json:"id"`
		MessageID string    `bson:"message_id" json:"messageId"`
		FileName  string    `bson:"file_name" json:"fileName"`
		MimeType  string    `bson:"mime_type" json:"mimeType"`
		Size      int64     `bson:"size" json:"size"`
		URL       string    `bson:"url" json:"url"`
		CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	}

	// MessageView is a message as presented to a caller. Body is the
	// decrypted plaintext; inside cache entries it stays empty and the
	// envelope rides along instead.
	MessageView struct {
		ID           string               `json:"id"`
		ChatID       string               `json:"chatId"`
		SenderID     string               `json:"senderId"`
		Body         string               `json:"body,omitempty"`
		Envelope     *encryption.Envelope `json:"envelope,omitempty"`
		AttachmentID string               `json:"attachmentId,omitempty"`
		CreatedAt    time.Time            `json:"createdAt"`
		EditedAt     *time.Time           `json:"editedAt,omitempty"`
	}
)
