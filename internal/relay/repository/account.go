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

// MongoAccountRepository 账号数据访问层（MongoDB 实现）
type MongoAccountRepository struct {
	collection *mongo.Collection
}

// NewMongoAccountRepository 创建账号 Repository
func NewMongoAccountRepository(db *mongo.Database) AccountRepository {
	return &MongoAccountRepository{
		collection: db.Collection("accounts"),
	}
}

// Upsert 创建或更新账号
func (r *MongoAccountRepository) Upsert(ctx context.Context, account *models.Account) error {
	now := time.Now()
	account.UpdatedAt = now
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}

	filter := bson.M{"name": account.Name}
	update := bson.M{
		"$set": bson.M{
			"email":      account.Email,
			"password":   account.Password,
			"enabled":    account.Enabled,
			"updated_at": account.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": account.CreatedAt,
		},
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// GetByName 根据账号名获取账号
func (r *MongoAccountRepository) GetByName(ctx context.Context, name string) (*models.Account, error) {
	var account models.Account
	err := r.collection.FindOne(ctx, bson.M{"name": name}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("account not found: name=%s", name)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// List 列出所有账号
func (r *MongoAccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	return r.find(ctx, bson.M{})
}

// ListEnabled 列出启用中的账号
func (r *MongoAccountRepository) ListEnabled(ctx context.Context) ([]*models.Account, error) {
	return r.find(ctx, bson.M{"enabled": true})
}

func (r *MongoAccountRepository) find(ctx context.Context, filter bson.M) ([]*models.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var accounts []*models.Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	return accounts, nil
}

// Remove 删除账号
func (r *MongoAccountRepository) Remove(ctx context.Context, name string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"name": name})
	if err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("account not found: name=%s", name)
	}
	return nil
}

// SetEnabled 启用/停用账号
func (r *MongoAccountRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	update := bson.M{"$set": bson.M{"enabled": enabled, "updated_at": time.Now()}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"name": name}, update)
	if err != nil {
		return fmt.Errorf("failed to set account enabled: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("account not found: name=%s", name)
	}
	return nil
}

// UpdateToken 持久化刷新后的 token 与过期时间
func (r *MongoAccountRepository) UpdateToken(ctx context.Context, name, token string, expiresAt time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"token":            token,
			"token_expires_at": expiresAt,
			"updated_at":       time.Now(),
		},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"name": name}, update)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("account not found: name=%s", name)
	}
	return nil
}

// ClearToken 清除持久化 token
func (r *MongoAccountRepository) ClearToken(ctx context.Context, name string) error {
	update := bson.M{
		"$unset": bson.M{"token": "", "token_expires_at": ""},
		"$set":   bson.M{"updated_at": time.Now()},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"name": name}, update)
	if err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// UpdateCursor 推进账号取件游标
func (r *MongoAccountRepository) UpdateCursor(ctx context.Context, name, cursor string) error {
	update := bson.M{"$set": bson.M{"cursor": cursor, "updated_at": time.Now()}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"name": name}, update)
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("account not found: name=%s", name)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoAccountRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
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
