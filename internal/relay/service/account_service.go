package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"otp_bot/internal/logger"
	"otp_bot/internal/relay/models"
	"otp_bot/internal/relay/repository"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// AccountServiceImpl 账号管理实现
type AccountServiceImpl struct {
	accountRepo repository.AccountRepository
	tokens      TokenManager
	api         ProviderAPI
	nowFunc     func() time.Time
}

// NewAccountService 创建账号服务
func NewAccountService(accountRepo repository.AccountRepository, tokens TokenManager, api ProviderAPI, nowFunc func() time.Time) AccountService {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &AccountServiceImpl{
		accountRepo: accountRepo,
		tokens:      tokens,
		api:         api,
		nowFunc:     nowFunc,
	}
}

// AddAccount 新增或更新账号，默认启用
func (s *AccountServiceImpl) AddAccount(ctx context.Context, name, email, password string) error {
	if name == "" {
		return fmt.Errorf("account name is required")
	}
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("invalid email: %s", email)
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	now := s.nowFunc()
	account := &models.Account{
		Name:      name,
		Email:     email,
		Password:  password,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.accountRepo.Upsert(ctx, account); err != nil {
		return fmt.Errorf("failed to save account %s: %w", name, err)
	}

	// 凭据可能已变化，旧 token 一律作废
	if err := s.tokens.Invalidate(ctx, name); err != nil {
		logger.L().Warnf("Failed to invalidate token after account update %s: %v", name, err)
	}

	logger.L().Infof("Account %s (%s) saved", name, email)
	return nil
}

// RemoveAccount 删除账号
func (s *AccountServiceImpl) RemoveAccount(ctx context.Context, name string) error {
	if err := s.accountRepo.Remove(ctx, name); err != nil {
		return err
	}
	logger.L().Infof("Account %s removed", name)
	return nil
}

// ListAccounts 列出所有账号
func (s *AccountServiceImpl) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.accountRepo.List(ctx)
}

// SetEnabled 启用/停用账号
func (s *AccountServiceImpl) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if err := s.accountRepo.SetEnabled(ctx, name, enabled); err != nil {
		return err
	}
	logger.L().Infof("Account %s enabled=%v", name, enabled)
	return nil
}

// Balances 查询所有启用账号的余额，单个账号失败不影响其他账号
func (s *AccountServiceImpl) Balances(ctx context.Context) (map[string]float64, error) {
	accounts, err := s.accountRepo.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]float64, len(accounts))
	for _, account := range accounts {
		token, err := s.tokens.GetValidToken(ctx, account.Name)
		if err != nil {
			logger.L().Warnf("Skipping balance for account %s: %v", account.Name, err)
			continue
		}
		balance, err := s.api.Balance(ctx, token)
		if err != nil {
			logger.L().Warnf("Failed to fetch balance for account %s: %v", account.Name, err)
			continue
		}
		balances[account.Name] = balance
	}
	return balances, nil
}
