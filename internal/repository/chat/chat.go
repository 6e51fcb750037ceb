package chat

import (
	"context"
	"time"

	"rtchat/internal/cryptographic/encryption"
	"rtchat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	ChatRepo struct {
		chats       *mongo.Collection
		messages    *mongo.Collection
		users       *mongo.Collection
		attachments *mongo.Collection
	}
)

func NewChatRepo(db *mongo.Database) *ChatRepo {
	return &ChatRepo{
		chats:       db.Collection("chats"),
		messages:    db.Collection("messages"),
		users:       db.Collection("users"),
		attachments: db.Collection("attachments"),
	}
}

// FindChatWithMembers loads one chat together with its member records and
// message history, oldest first.
func (r *ChatRepo) FindChatWithMembers(ctx context.Context, chatID string) (*model.Chat, []model.User, []model.Message, error) {
	var chat model.Chat
	err := r.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, err
	}

	cursor, err := r.users.Find(ctx, bson.M{"_id": bson.M{"$in": chat.MemberIDs}})
	if err != nil {
		return nil, nil, nil, err
	}
	var members []model.User
	if err := cursor.All(ctx, &members); err != nil {
		return nil, nil, nil, err
	}

	opts := options.Find().SetSort(bson.M{"created_at": 1})
	cursor, err = r.messages.Find(ctx, bson.M{"chat_id": chatID}, opts)
	if err != nil {
		return nil, nil, nil, err
	}
	var messages []model.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, nil, nil, err
	}

	return &chat, members, messages, nil
}

// FindChat loads chat metadata alone, without members or messages.
func (r *ChatRepo) FindChat(ctx context.Context, chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := r.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&chat)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindChatsForUser returns every chat the user is a member of.
func (r *ChatRepo) FindChatsForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	cursor, err := r.chats.Find(ctx, bson.M{"member_ids": userID})
	if err != nil {
		return nil, err
	}

	var chats []model.Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// IsMember consults the durable store, never the cache: membership gates
// mutations and the cache is only an accelerator.
func (r *ChatRepo) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	filter := bson.M{
		"_id":        chatID,
		"member_ids": userID,
	}

	err := r.chats.FindOne(ctx, filter).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ChatRepo) CreateMessage(ctx context.Context, msg *model.Message) error {
	_, err := r.messages.InsertOne(ctx, msg)
	return err
}

// UpdateMessageContent replaces a message body with a freshly sealed
// envelope and stamps the edit time.
func (r *ChatRepo) UpdateMessageContent(ctx context.Context, messageID string, body encryption.Envelope, editedAt time.Time) (bool, error) {
	filter := bson.M{
		"_id": messageID,
	}
	update := bson.M{
		"$set": bson.M{
			"body":      body,
			"edited_at": editedAt,
		},
	}

	res, err := r.messages.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *ChatRepo) FindMessageByID(ctx context.Context, messageID string) (*model.Message, error) {
	var msg model.Message
	err := r.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *ChatRepo) FindAttachment(ctx context.Context, messageID string) (*model.Attachment, error) {
	var att model.Attachment
	err := r.attachments.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&att)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &att, nil
}
