package chatstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rtchat/internal/cryptographic/encryption"
	"rtchat/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	gets    int
	failing bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failing {
		return "", errors.New("cache down")
	}
	val, ok := c.entries[key]
	if !ok {
		return "", errors.New("miss")
	}
	return val, nil
}

func (c *fakeCache) SetWithTTL(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("cache down")
	}
	c.entries[key] = value.(string)
	return nil
}

func (c *fakeCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

type fakeRepo struct {
	mu          sync.Mutex
	chats       map[string]*model.Chat
	users       map[string]*model.User
	messages    map[string]*model.Message
	attachments map[string]*model.Attachment
	loads       int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		chats:       make(map[string]*model.Chat),
		users:       make(map[string]*model.User),
		messages:    make(map[string]*model.Message),
		attachments: make(map[string]*model.Attachment),
	}
}

func (r *fakeRepo) FindChat(_ context.Context, chatID string) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, nil
	}
	cp := *chat
	return &cp, nil
}

func (r *fakeRepo) FindChatWithMembers(_ context.Context, chatID string) (*model.Chat, []model.User, []model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, nil, nil, nil
	}

	var members []model.User
	for _, id := range chat.MemberIDs {
		if u, ok := r.users[id]; ok {
			members = append(members, *u)
		}
	}
	var messages []model.Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			messages = append(messages, *m)
		}
	}
	cp := *chat
	return &cp, members, messages, nil
}

func (r *fakeRepo) FindChatsForUser(_ context.Context, userID string) ([]model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Chat
	for _, chat := range r.chats {
		for _, id := range chat.MemberIDs {
			if id == userID {
				out = append(out, *chat)
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return false, nil
	}
	for _, id := range chat.MemberIDs {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreateMessage(_ context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *msg
	r.messages[msg.ID] = &cp
	return nil
}

func (r *fakeRepo) UpdateMessageContent(_ context.Context, messageID string, body encryption.Envelope, editedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	if !ok {
		return false, nil
	}
	msg.Body = body
	msg.EditedAt = &editedAt
	return true, nil
}

func (r *fakeRepo) FindMessageByID(_ context.Context, messageID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (r *fakeRepo) FindAttachment(_ context.Context, messageID string) (*model.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	att, ok := r.attachments[messageID]
	if !ok {
		return nil, nil
	}
	cp := *att
	return &cp, nil
}

func newTestStore(t *testing.T) (*Store, *fakeCache, *fakeRepo) {
	t.Helper()
	pipeline, err := encryption.NewPipeline(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	cache := newFakeCache()
	repo := newFakeRepo()
	repo.chats["c1"] = &model.Chat{ID: "c1", Name: "general", MemberIDs: []string{"alice", "bob"}}
	repo.users["alice"] = &model.User{ID: "alice", Name: "Alice"}
	repo.users["bob"] = &model.User{ID: "bob", Name: "Bob"}

	ttls := TTLs{Chat: time.Minute, ChatList: time.Minute, Attachment: time.Hour}
	return NewStore(cache, repo, pipeline, ttls), cache, repo
}

func TestGetChatMissPopulatesCache(t *testing.T) {
	store, cache, repo := newTestStore(t)
	ctx := context.Background()

	view, err := store.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, "general", view.Chat.Name)
	assert.Len(t, view.Members, 2)
	assert.True(t, cache.has("chat:c1"))
	assert.Equal(t, 1, repo.loads)

	// Second read is served from cache.
	_, err = store.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.loads)
}

func TestGetChatUnknown(t *testing.T) {
	store, _, _ := newTestStore(t)

	view, err := store.GetChat(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, view)
}

func TestCacheFailureDegradesToDurableStore(t *testing.T) {
	store, cache, repo := newTestStore(t)
	cache.failing = true
	ctx := context.Background()

	view, err := store.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, 1, repo.loads)
}

func TestSaveMessageRoundTrip(t *testing.T) {
	store, _, repo := newTestStore(t)
	ctx := context.Background()

	sent, err := store.SaveMessage(ctx, "c1", "alice", "hello bob")
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, "hello bob", sent.Body)

	// Persisted form is ciphertext, not plaintext.
	stored := repo.messages[sent.ID]
	require.NotNil(t, stored)
	assert.NotContains(t, stored.Body.Content, "hello")

	view, err := store.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "hello bob", view.Messages[0].Body)
}

func TestSaveMessageRequiresMembership(t *testing.T) {
	store, _, repo := newTestStore(t)

	sent, err := store.SaveMessage(context.Background(), "c1", "mallory", "spam")
	require.NoError(t, err)
	assert.Nil(t, sent)
	assert.Empty(t, repo.messages)
}

// After an edit, a subsequent read must never return the pre-edit content.
func TestEditInvalidatesCache(t *testing.T) {
	store, cache, _ := newTestStore(t)
	ctx := context.Background()

	sent, err := store.SaveMessage(ctx, "c1", "alice", "first draft")
	require.NoError(t, err)

	// Warm the cache with the pre-edit content.
	_, err = store.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.True(t, cache.has("chat:c1"))

	edited, err := store.EditMessage(ctx, sent.ID, "alice", "final version")
	require.NoError(t, err)
	require.NotNil(t, edited)
	assert.False(t, cache.has("chat:c1"))
	assert.False(t, cache.has("user_chats:alice"))
	assert.False(t, cache.has("user_chats:bob"))

	view, err := store.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "final version", view.Messages[0].Body)
	assert.NotNil(t, view.Messages[0].EditedAt)
}

func TestEditRequiresOriginalSender(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	sent, err := store.SaveMessage(ctx, "c1", "alice", "mine")
	require.NoError(t, err)

	edited, err := store.EditMessage(ctx, sent.ID, "bob", "hijacked")
	require.NoError(t, err)
	assert.Nil(t, edited)

	view, err := store.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "mine", view.Messages[0].Body)
}

// A persisted envelope that fails verification is withheld from the view.
func TestTamperedMessageWithheld(t *testing.T) {
	store, _, repo := newTestStore(t)
	ctx := context.Background()

	sent, err := store.SaveMessage(ctx, "c1", "alice", "readable")
	require.NoError(t, err)
	tampered, err := store.SaveMessage(ctx, "c1", "alice", "tampered")
	require.NoError(t, err)

	repo.mu.Lock()
	msg := repo.messages[tampered.ID]
	if msg.Body.HMAC[0] == '0' {
		msg.Body.HMAC = "1" + msg.Body.HMAC[1:]
	} else {
		msg.Body.HMAC = "0" + msg.Body.HMAC[1:]
	}
	repo.mu.Unlock()

	view, err := store.GetChat(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, sent.ID, view.Messages[0].ID)
}

func TestGetChatsForUserCached(t *testing.T) {
	store, cache, _ := newTestStore(t)
	ctx := context.Background()

	chats, err := store.GetChatsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].Chat.ID)
	assert.True(t, cache.has("user_chats:alice"))
}

func TestGetAttachmentCachedIndependently(t *testing.T) {
	store, cache, repo := newTestStore(t)
	ctx := context.Background()

	repo.attachments["m1"] = &model.Attachment{
		ID: "a1", MessageID: "m1", FileName: "pic.png", MimeType: "image/png", Size: 1234,
	}

	att, err := store.GetAttachment(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, "pic.png", att.FileName)
	assert.True(t, cache.has("attachment:m1"))

	// Invalidating the chat leaves attachment metadata cached.
	store.Invalidate(ctx, "c1", []string{"alice", "bob"})
	assert.True(t, cache.has("attachment:m1"))
}
