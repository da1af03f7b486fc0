package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/richinex/chatvault/model"
)

const mongoCloseTimeout = 5 * time.Second

// MongoMessages implements MessagesBackend on a MongoDB collection, one
// document per conversation with the conversation ID as _id.
type MongoMessages struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoMessages connects, pings and creates the user index.
func NewMongoMessages(ctx context.Context, uri, database, collection string) (*MongoMessages, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		return nil, errors.New("mongo collection name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	ms := &MongoMessages{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
	_, err = ms.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "last_active", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return ms, nil
}

// Close disconnects the client.
func (ms *MongoMessages) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

// Save replaces the conversation's document, inserting it if missing.
func (ms *MongoMessages) Save(ctx context.Context, conv *model.Conversation) error {
	rec := NewRecord(conv)
	_, err := ms.collection.ReplaceOne(ctx,
		bson.M{"_id": rec.ConversationID},
		rec,
		options.Replace().SetUpsert(true))
	if err != nil {
		return backendErr("mongo", "save", rec.ConversationID, err)
	}
	return nil
}

// Get loads a conversation.
// Returns nil, nil if it doesn't exist.
func (ms *MongoMessages) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var rec Record
	err := ms.collection.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, backendErr("mongo", "get", conversationID, err)
	}
	conv, err := normalizeBSONRecord(rec).Conversation()
	if err != nil {
		return nil, backendErr("mongo", "get", conversationID, err)
	}
	return conv, nil
}

// GetByUser returns the user's conversations, most recently active first.
func (ms *MongoMessages) GetByUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	opts := options.Find().SetSort(recencySort())
	convs, err := ms.find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, backendErr("mongo", "get_by_user", userID, err)
	}
	return convs, nil
}

// List pages through every conversation, most recently active first.
func (ms *MongoMessages) List(ctx context.Context, limit, offset int) ([]*model.Conversation, error) {
	limit, offset = normalizePage(limit, offset)
	opts := options.Find().
		SetSort(recencySort()).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	convs, err := ms.find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, backendErr("mongo", "list", "", err)
	}
	return convs, nil
}

// Delete removes a conversation.
func (ms *MongoMessages) Delete(ctx context.Context, conversationID string) (bool, error) {
	res, err := ms.collection.DeleteOne(ctx, bson.M{"_id": conversationID})
	if err != nil {
		return false, backendErr("mongo", "delete", conversationID, err)
	}
	return res.DeletedCount > 0, nil
}

func (ms *MongoMessages) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*model.Conversation, error) {
	cursor, err := ms.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}

	convs := make([]*model.Conversation, 0, len(recs))
	for _, rec := range recs {
		conv, err := normalizeBSONRecord(rec).Conversation()
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func recencySort() bson.D {
	return bson.D{{Key: "last_active", Value: -1}, {Key: "_id", Value: 1}}
}

// normalizeBSONRecord turns the driver's primitive.D / primitive.A values in
// metadata back into plain maps and slices.
func normalizeBSONRecord(rec Record) Record {
	rec.Metadata = normalizeBSONMap(rec.Metadata)
	for i := range rec.Messages {
		rec.Messages[i].Metadata = normalizeBSONMap(rec.Messages[i].Metadata)
	}
	for i := range rec.Files {
		rec.Files[i].Metadata = normalizeBSONMap(rec.Files[i].Metadata)
	}
	return rec
}

func normalizeBSONMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeBSONValue(v)
	}
	return out
}

func normalizeBSONValue(v any) any {
	switch val := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = normalizeBSONValue(e.Value)
		}
		return m
	case primitive.M:
		return normalizeBSONMap(map[string]any(val))
	case map[string]any:
		return normalizeBSONMap(val)
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeBSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeBSONValue(item)
		}
		return out
	default:
		return v
	}
}

// Verify MongoMessages implements MessagesBackend and ConversationLister
var (
	_ MessagesBackend    = (*MongoMessages)(nil)
	_ ConversationLister = (*MongoMessages)(nil)
)
