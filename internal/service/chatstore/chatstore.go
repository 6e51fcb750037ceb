package chatstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rtchat/internal/cryptographic/encryption"
	"rtchat/internal/model"
	"rtchat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type (
	// Cache is the key/value collaborator with expiry. Any cache failure
	// is treated as a miss; the durable store remains the source of truth.
	Cache interface {
		Get(ctx context.Context, key string) (string, error)
		SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
		Delete(ctx context.Context, keys ...string) error
	}

	// Repo is the durable store collaborator, consulted for every
	// mutation decision.
	Repo interface {
		FindChat(ctx context.Context, chatID string) (*model.Chat, error)
		FindChatWithMembers(ctx context.Context, chatID string) (*model.Chat, []model.User, []model.Message, error)
		FindChatsForUser(ctx context.Context, userID string) ([]model.Chat, error)
		IsMember(ctx context.Context, chatID, userID string) (bool, error)
		CreateMessage(ctx context.Context, msg *model.Message) error
		UpdateMessageContent(ctx context.Context, messageID string, body encryption.Envelope, editedAt time.Time) (bool, error)
		FindMessageByID(ctx context.Context, messageID string) (*model.Message, error)
		FindAttachment(ctx context.Context, messageID string) (*model.Attachment, error)
	}

	TTLs struct {
		Chat       time.Duration
		ChatList   time.Duration
		Attachment time.Duration
	}

	// Store serves chat reads cache-first and keeps the cache coherent
	// with writes. Cached snapshots hold ciphertext envelopes; plaintext
	// exists only in the views handed to callers.
	Store struct {
		cache    Cache
		repo     Repo
		pipeline *encryption.Pipeline
		ttls     TTLs
	}

	// snapshot is the cached denormalized form of one chat.
	snapshot struct {
		Chat     model.Chat      `json:"chat"`
		Members  []model.User    `json:"members"`
		Messages []model.Message `json:"messages"`
	}
)

func chatKey(chatID string) string      { return fmt.Sprintf("chat:%s", chatID) }
func userChatsKey(userID string) string { return fmt.Sprintf("user_chats:%s", userID) }
func attachmentKey(msgID string) string { return fmt.Sprintf("attachment:%s", msgID) }

func NewStore(cache Cache, repo Repo, pipeline *encryption.Pipeline, ttls TTLs) *Store {
	return &Store{
		cache:    cache,
		repo:     repo,
		pipeline: pipeline,
		ttls:     ttls,
	}
}

// GetChat serves a chat cache-first. On a miss (or any cache error) the
// durable store is loaded and the cache repopulated under its TTL. Message
// bodies are decrypted only here, at the edge; a body that fails
// verification is withheld rather than returned corrupted.
func (s *Store) GetChat(ctx context.Context, chatID string) (*model.ChatView, error) {
	key := chatKey(chatID)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var snap snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err == nil {
			return s.render(&snap), nil
		}
		log.Warn("corrupt cache entry", zap.String("key", key))
	}

	chat, members, messages, err := s.repo.FindChatWithMembers(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return nil, nil
	}

	snap := &snapshot{Chat: *chat, Members: members, Messages: messages}
	s.populate(ctx, key, snap, s.ttls.Chat)

	return s.render(snap), nil
}

// GetChatsForUser returns the user's chat list, metadata only.
func (s *Store) GetChatsForUser(ctx context.Context, userID string) ([]model.ChatView, error) {
	key := userChatsKey(userID)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var chats []model.Chat
		if err := json.Unmarshal([]byte(raw), &chats); err == nil {
			return chatViews(chats), nil
		}
		log.Warn("corrupt cache entry", zap.String("key", key))
	}

	chats, err := s.repo.FindChatsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load chat list: %w", err)
	}

	s.populate(ctx, key, chats, s.ttls.ChatList)
	return chatViews(chats), nil
}

// GetAttachment serves attachment metadata under its own longer-lived key;
// attachments are immutable once created.
func (s *Store) GetAttachment(ctx context.Context, messageID string) (*model.Attachment, error) {
	key := attachmentKey(messageID)

	if raw, err := s.cache.Get(ctx, key); err == nil {
		var att model.Attachment
		if err := json.Unmarshal([]byte(raw), &att); err == nil {
			return &att, nil
		}
		log.Warn("corrupt cache entry", zap.String("key", key))
	}

	att, err := s.repo.FindAttachment(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load attachment: %w", err)
	}
	if att == nil {
		return nil, nil
	}

	s.populate(ctx, key, att, s.ttls.Attachment)
	return att, nil
}

// SaveMessage encrypts and persists a new message, then invalidates the
// chat's cache entry and every member's chat-list entry. Membership is
// checked against the durable store, never the cache.
func (s *Store) SaveMessage(ctx context.Context, chatID, senderID, body string) (*model.MessageView, error) {
	ok, err := s.repo.IsMember(ctx, chatID, senderID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, nil
	}

	env, err := s.pipeline.Encrypt([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	msg := &model.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Body:      *env,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	s.invalidateChat(ctx, chatID)

	return &model.MessageView{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      body,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// EditMessage re-encrypts a message body. Only the original sender may
// edit, judged by the durable record.
func (s *Store) EditMessage(ctx context.Context, messageID, editorID, body string) (*model.MessageView, error) {
	msg, err := s.repo.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	if msg == nil || msg.SenderID != editorID {
		return nil, nil
	}

	env, err := s.pipeline.Encrypt([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}

	editedAt := time.Now().UTC()
	modified, err := s.repo.UpdateMessageContent(ctx, messageID, *env, editedAt)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	if !modified {
		return nil, nil
	}

	s.invalidateChat(ctx, msg.ChatID)

	return &model.MessageView{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Body:      body,
		CreatedAt: msg.CreatedAt,
		EditedAt:  &editedAt,
	}, nil
}

// MemberIDs reads a chat's membership from the durable store, for
// authorization and fan-out decisions.
func (s *Store) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	chat, err := s.repo.FindChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return nil, nil
	}
	return chat.MemberIDs, nil
}

// Invalidate drops the chat's cache entry and its members' chat-list
// entries. Cache trouble here is logged and otherwise ignored; the next
// read rebuilds from the durable store.
func (s *Store) Invalidate(ctx context.Context, chatID string, memberIDs []string) {
	keys := make([]string, 0, len(memberIDs)+1)
	keys = append(keys, chatKey(chatID))
	for _, id := range memberIDs {
		keys = append(keys, userChatsKey(id))
	}

	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Warn("cache invalidation failed", zap.String("chatID", chatID), zap.Error(err))
	}
}

func (s *Store) invalidateChat(ctx context.Context, chatID string) {
	chat, err := s.repo.FindChat(ctx, chatID)
	if err != nil || chat == nil {
		s.Invalidate(ctx, chatID, nil)
		return
	}
	s.Invalidate(ctx, chatID, chat.MemberIDs)
}

func (s *Store) populate(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Error("marshal cache entry failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.SetWithTTL(ctx, key, string(data), ttl); err != nil {
		log.Debug("cache populate failed", zap.String("key", key), zap.Error(err))
	}
}

// render decrypts a snapshot's message bodies into caller-facing views. A
// message that fails verification is dropped from the view and logged; it
// is never returned in degraded form.
func (s *Store) render(snap *snapshot) *model.ChatView {
	views := make([]model.MessageView, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		plaintext, err := s.pipeline.Decrypt(&msg.Body)
		if err != nil {
			log.Error("unreadable message withheld",
				zap.String("messageID", msg.ID),
				zap.String("chatID", msg.ChatID))
			continue
		}
		views = append(views, model.MessageView{
			ID:           msg.ID,
			ChatID:       msg.ChatID,
			SenderID:     msg.SenderID,
			Body:         string(plaintext),
			AttachmentID: msg.AttachmentID,
			CreatedAt:    msg.CreatedAt,
			EditedAt:     msg.EditedAt,
		})
	}

	return &model.ChatView{
		Chat:     snap.Chat,
		Members:  snap.Members,
		Messages: views,
	}
}

func chatViews(chats []model.Chat) []model.ChatView {
	views := make([]model.ChatView, 0, len(chats))
	for _, c := range chats {
		views = append(views, model.ChatView{Chat: c})
	}
	return views
}
