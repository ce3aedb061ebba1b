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

// MongoRangeRepository 号段数据访问层（MongoDB 实现）
type MongoRangeRepository struct {
	collection *mongo.Collection
}

// NewMongoRangeRepository 创建号段 Repository
func NewMongoRangeRepository(db *mongo.Database) RangeRepository {
	return &MongoRangeRepository{
		collection: db.Collection("number_ranges"),
	}
}

// Get 根据标签获取号段，不存在时返回 nil
func (r *MongoRangeRepository) Get(ctx context.Context, label string) (*models.NumberRange, error) {
	var numberRange models.NumberRange
	err := r.collection.FindOne(ctx, bson.M{"label": label}).Decode(&numberRange)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get range: %w", err)
	}
	return &numberRange, nil
}

// List 列出所有号段
func (r *MongoRangeRepository) List(ctx context.Context) ([]*models.NumberRange, error) {
	opts := options.Find().SetSort(bson.D{{Key: "label", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranges: %w", err)
	}
	defer cursor.Close(ctx)

	var ranges []*models.NumberRange
	if err := cursor.All(ctx, &ranges); err != nil {
		return nil, fmt.Errorf("failed to decode ranges: %w", err)
	}
	return ranges, nil
}

// IncrementRequested 累加已请求数量
func (r *MongoRangeRepository) IncrementRequested(ctx context.Context, label string, count int, requestedAt time.Time) error {
	update := bson.M{
		"$inc": bson.M{"requested_total": count},
		"$set": bson.M{"last_request_at": requestedAt},
		"$setOnInsert": bson.M{
			"created_at":      requestedAt,
			"available_count": 0,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"label": label}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to increment requested total: %w", err)
	}
	return nil
}

// UpdateSync 记录一次同步结果
func (r *MongoRangeRepository) UpdateSync(ctx context.Context, label string, availableCount int, chunkCounts map[string]int, pendingChunks []int, syncedAt time.Time) error {
	if pendingChunks == nil {
		pendingChunks = []int{}
	}
	if chunkCounts == nil {
		chunkCounts = map[string]int{}
	}
	update := bson.M{
		"$set": bson.M{
			"available_count": availableCount,
			"chunk_counts":    chunkCounts,
			"pending_chunks":  pendingChunks,
			"last_synced_at":  syncedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"label": label}, update)
	if err != nil {
		return fmt.Errorf("failed to update sync result: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("range not found: label=%s", label)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoRangeRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "label", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
