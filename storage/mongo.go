package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "room_state"

type roomStateDocument struct {
	ID        string    `bson:"_id"`
	RoomID    string    `bson:"room_id"`
	Key       string    `bson:"key"`
	Blob      []byte    `bson:"blob"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type mongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (StateStore, func() error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	closeFn := func() error {
		return client.Disconnect(context.Background())
	}
	return &mongoStore{collection: client.Database(database).Collection(mongoCollection)}, closeFn, nil
}

func (s *mongoStore) Get(ctx context.Context, roomID, key string) ([]byte, error) {
	var doc roomStateDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": objectKey(roomID, key)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("mongo find %s/%s: %w", roomID, key, err)
	}
	return doc.Blob, nil
}

func (s *mongoStore) Put(ctx context.Context, roomID, key string, blob []byte) error {
	id := objectKey(roomID, key)
	doc := roomStateDocument{
		ID:        id,
		RoomID:    roomID,
		Key:       key,
		Blob:      blob,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo upsert %s/%s: %w", roomID, key, err)
	}
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, roomID, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": objectKey(roomID, key)}); err != nil {
		return fmt.Errorf("mongo delete %s/%s: %w", roomID, key, err)
	}
	return nil
}
