package service

import (
	"context"
	"fmt"
	"time"

	"otp_bot/internal/relay/models"
)

// stubProvider ProviderAPI 测试替身
type stubProvider struct {
	loginToken      string
	loginExpiresIn  int
	loginErr        error
	loginCalls      int
	messages        []models.Message
	fetchErr        error
	availableCounts map[int]int
	availableErrs   map[int]error
	fetchCountCalls []int
	requestErr      error
	requestedCounts []int
	balance         float64
	balanceErr      error
}

func (s *stubProvider) Login(ctx context.Context, email, password string) (string, int, error) {
	s.loginCalls++
	if s.loginErr != nil {
		return "", 0, s.loginErr
	}
	return s.loginToken, s.loginExpiresIn, nil
}

func (s *stubProvider) FetchMessages(ctx context.Context, token, sinceCursor string, limit int) ([]models.Message, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.messages, nil
}

func (s *stubProvider) FetchAvailableCount(ctx context.Context, token, rangeLabel string, chunkSize, offset int) (int, error) {
	s.fetchCountCalls = append(s.fetchCountCalls, offset)
	if err, ok := s.availableErrs[offset]; ok {
		return 0, err
	}
	return s.availableCounts[offset], nil
}

func (s *stubProvider) RequestNumbers(ctx context.Context, token, rangeLabel string, count int) error {
	if s.requestErr != nil {
		return s.requestErr
	}
	s.requestedCounts = append(s.requestedCounts, count)
	return nil
}

func (s *stubProvider) Balance(ctx context.Context, token string) (float64, error) {
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balance, nil
}

// stubAccountRepository AccountRepository 内存实现
type stubAccountRepository struct {
	accounts      map[string]*models.Account
	tokenUpdates  int
	clearedTokens []string
	cursors       map[string]string
}

func newStubAccountRepository(accounts ...*models.Account) *stubAccountRepository {
	repo := &stubAccountRepository{
		accounts: make(map[string]*models.Account),
		cursors:  make(map[string]string),
	}
	for _, account := range accounts {
		repo.accounts[account.Name] = account
	}
	return repo
}

func (s *stubAccountRepository) Upsert(ctx context.Context, account *models.Account) error {
	s.accounts[account.Name] = account
	return nil
}

func (s *stubAccountRepository) GetByName(ctx context.Context, name string) (*models.Account, error) {
	account, ok := s.accounts[name]
	if !ok {
		return nil, fmt.Errorf("account not found: name=%s", name)
	}
	return account, nil
}

func (s *stubAccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	var out []*models.Account
	for _, account := range s.accounts {
		out = append(out, account)
	}
	return out, nil
}

func (s *stubAccountRepository) ListEnabled(ctx context.Context) ([]*models.Account, error) {
	var out []*models.Account
	for _, account := range s.accounts {
		if account.Enabled {
			out = append(out, account)
		}
	}
	return out, nil
}

func (s *stubAccountRepository) Remove(ctx context.Context, name string) error {
	delete(s.accounts, name)
	return nil
}

func (s *stubAccountRepository) SetEnabled(ctx context.Context, name string, enabled bool) error {
	if account, ok := s.accounts[name]; ok {
		account.Enabled = enabled
	}
	return nil
}

func (s *stubAccountRepository) UpdateToken(ctx context.Context, name, token string, expiresAt time.Time) error {
	s.tokenUpdates++
	if account, ok := s.accounts[name]; ok {
		account.Token = token
		account.TokenExpiresAt = expiresAt
	}
	return nil
}

func (s *stubAccountRepository) ClearToken(ctx context.Context, name string) error {
	s.clearedTokens = append(s.clearedTokens, name)
	if account, ok := s.accounts[name]; ok {
		account.Token = ""
		account.TokenExpiresAt = time.Time{}
	}
	return nil
}

func (s *stubAccountRepository) UpdateCursor(ctx context.Context, name, cursor string) error {
	s.cursors[name] = cursor
	if account, ok := s.accounts[name]; ok {
		account.Cursor = cursor
	}
	return nil
}

func (s *stubAccountRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

// stubRecordRepository DailyRecordRepository 内存实现
type stubRecordRepository struct {
	seen             map[string]map[string]bool
	sent             map[string][]models.SentEntry
	deleteOthersCall int
	deleteAllCalls   int
	deletedDays      []string
	rotateErr        error
}

func newStubRecordRepository() *stubRecordRepository {
	return &stubRecordRepository{
		seen: make(map[string]map[string]bool),
		sent: make(map[string][]models.SentEntry),
	}
}

func (s *stubRecordRepository) IsSeen(ctx context.Context, day, messageID string) (bool, error) {
	return s.seen[day][messageID], nil
}

func (s *stubRecordRepository) AddSeen(ctx context.Context, day, messageID string) error {
	if s.seen[day] == nil {
		s.seen[day] = make(map[string]bool)
	}
	s.seen[day][messageID] = true
	return nil
}

func (s *stubRecordRepository) AppendSent(ctx context.Context, day string, entry models.SentEntry) error {
	s.sent[day] = append(s.sent[day], entry)
	return nil
}

func (s *stubRecordRepository) GetDay(ctx context.Context, day string) (*models.DailyRecord, error) {
	if s.seen[day] == nil && s.sent[day] == nil {
		return nil, nil
	}
	record := &models.DailyRecord{Day: day, Sent: s.sent[day]}
	for id := range s.seen[day] {
		record.SeenIDs = append(record.SeenIDs, id)
	}
	return record, nil
}

func (s *stubRecordRepository) ListDays(ctx context.Context) ([]string, error) {
	var days []string
	for day := range s.seen {
		days = append(days, day)
	}
	return days, nil
}

func (s *stubRecordRepository) DeleteOthers(ctx context.Context, day string) error {
	if s.rotateErr != nil {
		return s.rotateErr
	}
	s.deleteOthersCall++
	for d := range s.seen {
		if d != day {
			delete(s.seen, d)
			delete(s.sent, d)
		}
	}
	return nil
}

func (s *stubRecordRepository) DeleteDay(ctx context.Context, day string) error {
	s.deletedDays = append(s.deletedDays, day)
	delete(s.seen, day)
	delete(s.sent, day)
	return nil
}

func (s *stubRecordRepository) DeleteAll(ctx context.Context) error {
	s.deleteAllCalls++
	s.seen = make(map[string]map[string]bool)
	s.sent = make(map[string][]models.SentEntry)
	return nil
}

func (s *stubRecordRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

// stubRangeRepository RangeRepository 内存实现
type stubRangeRepository struct {
	ranges          map[string]*models.NumberRange
	lastPending     []int
	lastChunkCounts map[string]int
	lastAvailable   int
}

func newStubRangeRepository(ranges ...*models.NumberRange) *stubRangeRepository {
	repo := &stubRangeRepository{ranges: make(map[string]*models.NumberRange)}
	for _, numberRange := range ranges {
		repo.ranges[numberRange.Label] = numberRange
	}
	return repo
}

func (s *stubRangeRepository) Get(ctx context.Context, label string) (*models.NumberRange, error) {
	numberRange, ok := s.ranges[label]
	if !ok {
		return nil, nil
	}
	clone := *numberRange
	return &clone, nil
}

func (s *stubRangeRepository) List(ctx context.Context) ([]*models.NumberRange, error) {
	var out []*models.NumberRange
	for _, numberRange := range s.ranges {
		clone := *numberRange
		out = append(out, &clone)
	}
	return out, nil
}

func (s *stubRangeRepository) IncrementRequested(ctx context.Context, label string, count int, requestedAt time.Time) error {
	numberRange, ok := s.ranges[label]
	if !ok {
		numberRange = &models.NumberRange{Label: label, CreatedAt: requestedAt}
		s.ranges[label] = numberRange
	}
	numberRange.RequestedTotal += count
	numberRange.LastRequestAt = requestedAt
	return nil
}

func (s *stubRangeRepository) UpdateSync(ctx context.Context, label string, availableCount int, chunkCounts map[string]int, pendingChunks []int, syncedAt time.Time) error {
	numberRange, ok := s.ranges[label]
	if !ok {
		return fmt.Errorf("range not found: label=%s", label)
	}
	numberRange.AvailableCount = availableCount
	numberRange.ChunkCounts = chunkCounts
	numberRange.PendingChunks = pendingChunks
	numberRange.LastSyncedAt = syncedAt
	s.lastAvailable = availableCount
	s.lastChunkCounts = chunkCounts
	s.lastPending = pendingChunks
	return nil
}

func (s *stubRangeRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

// stubTokenManager TokenManager 测试替身
type stubTokenManager struct {
	token       string
	err         error
	invalidated []string
}

func (s *stubTokenManager) GetValidToken(ctx context.Context, accountName string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func (s *stubTokenManager) Invalidate(ctx context.Context, accountName string) error {
	s.invalidated = append(s.invalidated, accountName)
	return nil
}
