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

// MongoDailyRecordRepository 当日去重记录数据访问层（MongoDB 实现）
// 一天一个文档，seen_ids 用 $addToSet 保证幂等
type MongoDailyRecordRepository struct {
	collection *mongo.Collection
}

// NewMongoDailyRecordRepository 创建去重记录 Repository
func NewMongoDailyRecordRepository(db *mongo.Database) DailyRecordRepository {
	return &MongoDailyRecordRepository{
		collection: db.Collection("daily_records"),
	}
}

// IsSeen 判断消息 ID 当日是否已转发
func (r *MongoDailyRecordRepository) IsSeen(ctx context.Context, day, messageID string) (bool, error) {
	filter := bson.M{"day": day, "seen_ids": messageID}
	count, err := r.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check seen id: %w", err)
	}
	return count > 0, nil
}

// AddSeen 记录消息 ID 已转发
func (r *MongoDailyRecordRepository) AddSeen(ctx context.Context, day, messageID string) error {
	now := time.Now()
	update := bson.M{
		"$addToSet": bson.M{"seen_ids": messageID},
		"$set":      bson.M{"updated_at": now},
		"$setOnInsert": bson.M{
			"created_at": now,
			"sent":       []models.SentEntry{},
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"day": day}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to add seen id: %w", err)
	}
	return nil
}

// AppendSent 追加一条投递摘要
func (r *MongoDailyRecordRepository) AppendSent(ctx context.Context, day string, entry models.SentEntry) error {
	now := time.Now()
	update := bson.M{
		"$push": bson.M{"sent": entry},
		"$set":  bson.M{"updated_at": now},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, bson.M{"day": day}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to append sent entry: %w", err)
	}
	return nil
}

// GetDay 获取某天的完整记录
func (r *MongoDailyRecordRepository) GetDay(ctx context.Context, day string) (*models.DailyRecord, error) {
	var record models.DailyRecord
	err := r.collection.FindOne(ctx, bson.M{"day": day}).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get daily record: %w", err)
	}
	return &record, nil
}

// ListDays 列出当前存在记录的所有天
func (r *MongoDailyRecordRepository) ListDays(ctx context.Context) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "day", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}

	days := make([]string, 0, len(values))
	for _, v := range values {
		if day, ok := v.(string); ok {
			days = append(days, day)
		}
	}
	return days, nil
}

// DeleteOthers 删除 day 之外的所有记录
func (r *MongoDailyRecordRepository) DeleteOthers(ctx context.Context, day string) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"day": bson.M{"$ne": day}})
	if err != nil {
		return fmt.Errorf("failed to rotate daily records: %w", err)
	}
	return nil
}

// DeleteDay 删除某一天的记录
func (r *MongoDailyRecordRepository) DeleteDay(ctx context.Context, day string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"day": day})
	if err != nil {
		return fmt.Errorf("failed to delete daily record: %w", err)
	}
	return nil
}

// DeleteAll 清空全部记录
func (r *MongoDailyRecordRepository) DeleteAll(ctx context.Context) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to clear daily records: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoDailyRecordRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "day", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// 兜底 TTL（48小时）：轮换逻辑漏删时由 MongoDB 清理
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(48 * 3600),
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
