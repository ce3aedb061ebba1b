package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"otp_bot/internal/relay/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// settingsDocID 运行时开关的固定文档 ID（单文档集合）
const settingsDocID = "runtime"

// MongoSettingsRepository 运行时开关数据访问层（MongoDB 实现）
type MongoSettingsRepository struct {
	collection *mongo.Collection
}

// NewMongoSettingsRepository 创建运行时开关 Repository
func NewMongoSettingsRepository(db *mongo.Database) SettingsRepository {
	return &MongoSettingsRepository{
		collection: db.Collection("settings"),
	}
}

// Get 获取运行时开关，文档不存在时返回 nil
func (r *MongoSettingsRepository) Get(ctx context.Context) (*models.RuntimeSettings, error) {
	var settings models.RuntimeSettings
	err := r.collection.FindOne(ctx, bson.M{"_id": settingsDocID}).Decode(&settings)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get runtime settings: %w", err)
	}
	return &settings, nil
}

// SetFetchEnabled 设置全局取件开关
func (r *MongoSettingsRepository) SetFetchEnabled(ctx context.Context, enabled bool) error {
	update := bson.M{
		"$set": bson.M{
			"fetch_enabled": enabled,
			"updated_at":    time.Now(),
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": settingsDocID}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to set fetch enabled: %w", err)
	}
	return nil
}
