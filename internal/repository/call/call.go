package call

import (
	"context"

	"rtchat/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type (
	CallRepo struct {
		collection *mongo.Collection
	}
)

func NewCallRepo(db *mongo.Database) *CallRepo {
	return &CallRepo{
		collection: db.Collection("calls"),
	}
}

func (r *CallRepo) Create(ctx context.Context, call *model.Call) error {
	_, err := r.collection.InsertOne(ctx, call)
	return err
}

// UpdateStatus is the conditional write call transitions ride on: the
// filter matches on both id and the expected current status, so of two
// racing transitions only the first one modifies the record. The modified
// count tells the caller whether it won.
func (r *CallRepo) UpdateStatus(ctx context.Context, callID string, expected, next model.CallStatus) (bool, error) {
	filter := bson.M{
		"_id":    callID,
		"status": expected,
	}
	update := bson.M{
		"$set": bson.M{
			"status": next,
		},
	}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *CallRepo) FindByID(ctx context.Context, callID string) (*model.Call, error) {
	filter := bson.M{
		"_id": callID,
	}

	var call model.Call
	err := r.collection.FindOne(ctx, filter).Decode(&call)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &call, nil
}

// FindInitiated returns a still-ringing call by this initiator with exactly
// this participant set, so a retried initiate resolves to the pending call.
func (r *CallRepo) FindInitiated(ctx context.Context, initiatorID string, participantIDs []string) (*model.Call, error) {
	filter := bson.M{
		"initiator_id": initiatorID,
		"status":       model.CallInitiated,
		"participant_ids": bson.M{
			"$all":  participantIDs,
			"$size": len(participantIDs),
		},
	}

	var call model.Call
	err := r.collection.FindOne(ctx, filter).Decode(&call)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &call, nil
}
