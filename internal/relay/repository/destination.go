package repository

import (
	"context"
	"fmt"
	"time"

	"otp_bot/internal/relay/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDestinationRepository 转发目标数据访问层（MongoDB 实现）
type MongoDestinationRepository struct {
	collection *mongo.Collection
}

// NewMongoDestinationRepository 创建目标 Repository
func NewMongoDestinationRepository(db *mongo.Database) DestinationRepository {
	return &MongoDestinationRepository{
		collection: db.Collection("destinations"),
	}
}

// Upsert 创建或更新目标群组
func (r *MongoDestinationRepository) Upsert(ctx context.Context, destination *models.Destination) error {
	now := time.Now()
	destination.UpdatedAt = now
	if destination.CreatedAt.IsZero() {
		destination.CreatedAt = now
	}

	filter := bson.M{"chat_id": destination.ChatID}
	update := bson.M{
		"$set": bson.M{
			"name":       destination.Name,
			"enabled":    destination.Enabled,
			"updated_at": destination.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": destination.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert destination: %w", err)
	}
	return nil
}

// List 列出所有目标
func (r *MongoDestinationRepository) List(ctx context.Context) ([]*models.Destination, error) {
	return r.find(ctx, bson.M{})
}

// ListEnabled 列出启用中的目标
func (r *MongoDestinationRepository) ListEnabled(ctx context.Context) ([]*models.Destination, error) {
	return r.find(ctx, bson.M{"enabled": true})
}

func (r *MongoDestinationRepository) find(ctx context.Context, filter bson.M) ([]*models.Destination, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	defer cursor.Close(ctx)

	var destinations []*models.Destination
	if err := cursor.All(ctx, &destinations); err != nil {
		return nil, fmt.Errorf("failed to decode destinations: %w", err)
	}
	return destinations, nil
}

// Remove 删除目标
func (r *MongoDestinationRepository) Remove(ctx context.Context, chatID int64) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return fmt.Errorf("failed to remove destination: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("destination not found: chat_id=%d", chatID)
	}
	return nil
}

// SetEnabled 启用/停用目标
func (r *MongoDestinationRepository) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	update := bson.M{"$set": bson.M{"enabled": enabled, "updated_at": time.Now()}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"chat_id": chatID}, update)
	if err != nil {
		return fmt.Errorf("failed to set destination enabled: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("destination not found: chat_id=%d", chatID)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoDestinationRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "enabled", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
