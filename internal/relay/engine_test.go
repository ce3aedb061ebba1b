package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"otp_bot/internal/provider"
	"otp_bot/internal/relay/models"
	"otp_bot/internal/relay/sender"
)

type fakeProvider struct {
	messages   []models.Message
	fetchErr   error
	fetchCalls int
	lastCursor string
}

func (f *fakeProvider) Login(ctx context.Context, email, password string) (string, int, error) {
	return "tok", 7200, nil
}

func (f *fakeProvider) FetchMessages(ctx context.Context, token, sinceCursor string, limit int) ([]models.Message, error) {
	f.fetchCalls++
	f.lastCursor = sinceCursor
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.messages, nil
}

func (f *fakeProvider) FetchAvailableCount(ctx context.Context, token, rangeLabel string, chunkSize, offset int) (int, error) {
	return 0, nil
}

func (f *fakeProvider) RequestNumbers(ctx context.Context, token, rangeLabel string, count int) error {
	return nil
}

func (f *fakeProvider) Balance(ctx context.Context, token string) (float64, error) {
	return 0, nil
}

type fakeTokens struct {
	token       string
	err         error
	invalidated []string
}

func (f *fakeTokens) GetValidToken(ctx context.Context, accountName string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

func (f *fakeTokens) Invalidate(ctx context.Context, accountName string) error {
	f.invalidated = append(f.invalidated, accountName)
	return nil
}

type fakeStore struct {
	rotatedTo string
	seen      map[string]bool
	marked    []string
	sent      []models.SentEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[string]bool)}
}

func (f *fakeStore) Rotate(ctx context.Context, day string) error {
	f.rotatedTo = day
	return nil
}

func (f *fakeStore) HasSeen(ctx context.Context, day, messageID string) (bool, error) {
	return f.seen[messageID], nil
}

func (f *fakeStore) MarkSeen(ctx context.Context, day, messageID string) error {
	f.seen[messageID] = true
	f.marked = append(f.marked, messageID)
	return nil
}

func (f *fakeStore) RecordSent(ctx context.Context, day string, entry models.SentEntry) error {
	f.sent = append(f.sent, entry)
	return nil
}

func (f *fakeStore) Clear(ctx context.Context, day string) error {
	return nil
}

type fakeAccountRepo struct {
	accounts []*models.Account
	cursors  map[string]string
}

func (f *fakeAccountRepo) Upsert(ctx context.Context, account *models.Account) error { return nil }

func (f *fakeAccountRepo) GetByName(ctx context.Context, name string) (*models.Account, error) {
	for _, account := range f.accounts {
		if account.Name == name {
			return account, nil
		}
	}
	return nil, fmt.Errorf("account not found: name=%s", name)
}

func (f *fakeAccountRepo) List(ctx context.Context) ([]*models.Account, error) {
	return f.accounts, nil
}

func (f *fakeAccountRepo) ListEnabled(ctx context.Context) ([]*models.Account, error) {
	var out []*models.Account
	for _, account := range f.accounts {
		if account.Enabled {
			out = append(out, account)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) Remove(ctx context.Context, name string) error              { return nil }
func (f *fakeAccountRepo) SetEnabled(ctx context.Context, name string, on bool) error { return nil }
func (f *fakeAccountRepo) ClearToken(ctx context.Context, name string) error          { return nil }
func (f *fakeAccountRepo) EnsureIndexes(ctx context.Context) error                    { return nil }

func (f *fakeAccountRepo) UpdateToken(ctx context.Context, name, token string, expiresAt time.Time) error {
	return nil
}

func (f *fakeAccountRepo) UpdateCursor(ctx context.Context, name, cursor string) error {
	if f.cursors == nil {
		f.cursors = make(map[string]string)
	}
	f.cursors[name] = cursor
	return nil
}

type fakeDestinationRepo struct {
	destinations []*models.Destination
	disabled     []int64
}

func (f *fakeDestinationRepo) Upsert(ctx context.Context, d *models.Destination) error { return nil }

func (f *fakeDestinationRepo) List(ctx context.Context) ([]*models.Destination, error) {
	return f.destinations, nil
}

func (f *fakeDestinationRepo) ListEnabled(ctx context.Context) ([]*models.Destination, error) {
	var out []*models.Destination
	for _, destination := range f.destinations {
		if destination.Enabled {
			out = append(out, destination)
		}
	}
	return out, nil
}

func (f *fakeDestinationRepo) Remove(ctx context.Context, chatID int64) error { return nil }

func (f *fakeDestinationRepo) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	if !enabled {
		f.disabled = append(f.disabled, chatID)
	}
	for _, destination := range f.destinations {
		if destination.ChatID == chatID {
			destination.Enabled = enabled
		}
	}
	return nil
}

func (f *fakeDestinationRepo) EnsureIndexes(ctx context.Context) error { return nil }

type fakeSettingsRepo struct {
	settings *models.RuntimeSettings
	err      error
	getCalls int
}

func (f *fakeSettingsRepo) Get(ctx context.Context) (*models.RuntimeSettings, error) {
	f.getCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.settings, nil
}

func (f *fakeSettingsRepo) SetFetchEnabled(ctx context.Context, enabled bool) error {
	f.settings = &models.RuntimeSettings{FetchEnabled: enabled}
	return nil
}

type fakeBroadcaster struct {
	calls     int
	texts     []string
	delivered []int64
	gone      []int64
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, destinations []*models.Destination, text, copyValue string) *sender.Result {
	f.calls++
	f.texts = append(f.texts, text)
	result := &sender.Result{DispatchID: "dispatch-test", Failed: make(map[int64]error)}
	if f.delivered != nil {
		result.Delivered = f.delivered
	} else {
		for _, destination := range destinations {
			result.Delivered = append(result.Delivered, destination.ChatID)
		}
	}
	result.Gone = f.gone
	return result
}

func engineFixture(api *fakeProvider, tokens *fakeTokens, store *fakeStore, b *fakeBroadcaster, accounts *fakeAccountRepo, destinations *fakeDestinationRepo, now time.Time) *Engine {
	settings := &fakeSettingsRepo{}
	return NewEngine(api, tokens, store, b, accounts, destinations, settings, 30*time.Second, 30, true, func() time.Time { return now })
}

func testMessage(id string, receivedAt time.Time) models.Message {
	return models.Message{
		ID:          id,
		ServiceName: "WhatsApp",
		Number:      "79001234567",
		Range:       "9231",
		Body:        "Your code is 482913",
		ReceivedAt:  receivedAt,
	}
}

func TestRunCycleDeliversAndAdvancesCursor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	received := now.Add(-time.Minute)
	api := &fakeProvider{messages: []models.Message{testMessage("m1", received), testMessage("m2", received.Add(time.Second))}}
	tokens := &fakeTokens{token: "tok"}
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	destinations := &fakeDestinationRepo{destinations: []*models.Destination{{ChatID: -100123, Enabled: true}}}

	engine := engineFixture(api, tokens, store, broadcaster, accounts, destinations, now)
	engine.runCycle(context.Background(), accounts.accounts[0])

	if store.rotatedTo != "2025-06-01" {
		t.Fatalf("expected rotation to 2025-06-01, got %q", store.rotatedTo)
	}
	if broadcaster.calls != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", broadcaster.calls)
	}
	if len(store.marked) != 2 {
		t.Fatalf("expected 2 messages marked, got %v", store.marked)
	}
	if len(store.sent) != 2 {
		t.Fatalf("expected 2 sent entries, got %d", len(store.sent))
	}
	if store.sent[0].Code != "482913" {
		t.Fatalf("unexpected extracted code: %q", store.sent[0].Code)
	}

	wantCursor := received.Add(time.Second).Format(time.RFC3339)
	if accounts.cursors["acc1"] != wantCursor {
		t.Fatalf("cursor not advanced: got %q, want %q", accounts.cursors["acc1"], wantCursor)
	}
}

func TestRunCycleSkipsSeenMessages(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	received := now.Add(-time.Minute)
	api := &fakeProvider{messages: []models.Message{testMessage("m1", received)}}
	tokens := &fakeTokens{token: "tok"}
	store := newFakeStore()
	store.seen["m1"] = true
	broadcaster := &fakeBroadcaster{}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	destinations := &fakeDestinationRepo{destinations: []*models.Destination{{ChatID: -100123, Enabled: true}}}

	engine := engineFixture(api, tokens, store, broadcaster, accounts, destinations, now)
	engine.runCycle(context.Background(), accounts.accounts[0])

	if broadcaster.calls != 0 {
		t.Fatalf("seen message must not be rebroadcast")
	}
	// 重复消息依然推进游标，避免反复取回
	if accounts.cursors["acc1"] != received.Format(time.RFC3339) {
		t.Fatalf("cursor should advance past seen message, got %q", accounts.cursors["acc1"])
	}
}

func TestRunCycleAuthFailureSkipsCycle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeProvider{fetchErr: &provider.AuthError{Account: "acc1", Message: "token expired"}}
	tokens := &fakeTokens{token: "tok"}
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	destinations := &fakeDestinationRepo{}

	engine := engineFixture(api, tokens, store, broadcaster, accounts, destinations, now)
	engine.runCycle(context.Background(), accounts.accounts[0])

	if len(tokens.invalidated) != 1 || tokens.invalidated[0] != "acc1" {
		t.Fatalf("expected token invalidation, got %v", tokens.invalidated)
	}
	if broadcaster.calls != 0 {
		t.Fatalf("no broadcast expected on auth failure")
	}
	// 认证失败不算传输故障，下一 tick 不应退避
	if !engine.acquire("acc1", now.Add(30*time.Second)) {
		t.Fatalf("auth failure must not trigger backoff")
	}
}

func TestRunCycleTransportFailureBacksOff(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeProvider{fetchErr: &provider.TransportError{Op: "fetch", Err: errors.New("connection refused")}}
	tokens := &fakeTokens{token: "tok"}
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	destinations := &fakeDestinationRepo{}

	engine := engineFixture(api, tokens, store, broadcaster, accounts, destinations, now)
	engine.runCycle(context.Background(), accounts.accounts[0])

	if engine.acquire("acc1", now.Add(10*time.Second)) {
		t.Fatalf("expected backoff to block next tick")
	}
	if !engine.acquire("acc1", now.Add(time.Minute)) {
		t.Fatalf("expected backoff to expire")
	}
}

// cancellingBroadcaster 在首次投递时触发停机，记录投递侧看到的 ctx 状态
type cancellingBroadcaster struct {
	cancel  context.CancelFunc
	calls   int
	ctxErrs []error
}

func (c *cancellingBroadcaster) Broadcast(ctx context.Context, destinations []*models.Destination, text, copyValue string) *sender.Result {
	c.calls++
	c.cancel()
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	result := &sender.Result{DispatchID: "dispatch-test", Failed: make(map[int64]error)}
	for _, destination := range destinations {
		result.Delivered = append(result.Delivered, destination.ChatID)
	}
	return result
}

func TestShutdownFinishesInFlightMessage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	received := now.Add(-2 * time.Minute)
	api := &fakeProvider{messages: []models.Message{
		testMessage("m1", received),
		testMessage("m2", received.Add(time.Minute)),
	}}
	tokens := &fakeTokens{token: "tok"}
	store := newFakeStore()
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	destinations := &fakeDestinationRepo{destinations: []*models.Destination{{ChatID: -100123, Enabled: true}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broadcaster := &cancellingBroadcaster{cancel: cancel}

	engine := NewEngine(api, tokens, store, broadcaster, accounts, destinations, &fakeSettingsRepo{}, 30*time.Second, 30, true, func() time.Time { return now })
	engine.runCycle(ctx, accounts.accounts[0])

	// 停机落在消息边界：第一条连同标记和游标全部完成，第二条不再开始
	if broadcaster.calls != 1 {
		t.Fatalf("expected exactly 1 broadcast before shutdown, got %d", broadcaster.calls)
	}
	if broadcaster.ctxErrs[0] != nil {
		t.Fatalf("in-flight delivery must not observe cancellation, got %v", broadcaster.ctxErrs[0])
	}
	if len(store.marked) != 1 {
		t.Fatalf("first message must be marked seen, marked=%v", store.marked)
	}
	if accounts.cursors["acc1"] != received.Format(time.RFC3339) {
		t.Fatalf("cursor must advance past the completed message only, got %q", accounts.cursors["acc1"])
	}
}

func TestBackoffCapsAfterManyFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := engineFixture(&fakeProvider{}, &fakeTokens{token: "tok"}, newFakeStore(), &fakeBroadcaster{}, &fakeAccountRepo{}, &fakeDestinationRepo{}, now)

	// 长时间断连后退避必须封顶，不能因位移溢出归零
	for i := 0; i < 70; i++ {
		engine.noteTransportFailure("acc1")
	}

	if engine.acquire("acc1", now) {
		t.Fatalf("backoff must still be in effect right after failure #70")
	}
	if engine.acquire("acc1", now.Add(maxCycleBackoff-time.Second)) {
		t.Fatalf("backoff must last until the cap")
	}
	if !engine.acquire("acc1", now.Add(maxCycleBackoff)) {
		t.Fatalf("backoff must expire at the cap")
	}
}

func TestRunCycleHoldsWithoutDelivery(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	received := now.Add(-time.Minute)
	api := &fakeProvider{messages: []models.Message{testMessage("m1", received)}}
	tokens := &fakeTokens{token: "tok"}
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{delivered: []int64{}}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	destinations := &fakeDestinationRepo{destinations: []*models.Destination{{ChatID: -100123, Enabled: true}}}

	engine := engineFixture(api, tokens, store, broadcaster, accounts, destinations, now)
	engine.runCycle(context.Background(), accounts.accounts[0])

	if len(store.marked) != 0 {
		t.Fatalf("undelivered message must not be marked seen")
	}
	if accounts.cursors["acc1"] != "" {
		t.Fatalf("cursor must not advance without delivery, got %q", accounts.cursors["acc1"])
	}
}

func TestRunCycleDisablesGoneDestinations(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	received := now.Add(-time.Minute)
	api := &fakeProvider{messages: []models.Message{testMessage("m1", received)}}
	tokens := &fakeTokens{token: "tok"}
	store := newFakeStore()
	broadcaster := &fakeBroadcaster{delivered: []int64{-100123}, gone: []int64{-100456}}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	destinations := &fakeDestinationRepo{destinations: []*models.Destination{
		{ChatID: -100123, Enabled: true},
		{ChatID: -100456, Enabled: true},
	}}

	engine := engineFixture(api, tokens, store, broadcaster, accounts, destinations, now)
	engine.runCycle(context.Background(), accounts.accounts[0])

	if len(destinations.disabled) != 1 || destinations.disabled[0] != -100456 {
		t.Fatalf("expected gone destination disabled, got %v", destinations.disabled)
	}
	if len(store.sent) != 1 || len(store.sent[0].Destinations) != 1 {
		t.Fatalf("sent entry should record only delivered chats")
	}
}

func TestDispatchHonorsFetchToggle(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeProvider{}
	tokens := &fakeTokens{token: "tok"}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	settings := &fakeSettingsRepo{settings: &models.RuntimeSettings{FetchEnabled: false}}

	engine := NewEngine(api, tokens, newFakeStore(), &fakeBroadcaster{}, accounts, &fakeDestinationRepo{}, settings, 30*time.Second, 30, true, func() time.Time { return now })

	// 数据库开关关闭时本轮不取件，无需重启进程
	engine.dispatch(context.Background())
	engine.wg.Wait()
	if api.fetchCalls != 0 {
		t.Fatalf("expected no fetch while disabled, got %d", api.fetchCalls)
	}

	// 重新打开后下一轮立即恢复
	if err := settings.SetFetchEnabled(context.Background(), true); err != nil {
		t.Fatalf("SetFetchEnabled failed: %v", err)
	}
	engine.dispatch(context.Background())
	engine.wg.Wait()
	if api.fetchCalls != 1 {
		t.Fatalf("expected one fetch after re-enable, got %d", api.fetchCalls)
	}
}

func TestDispatchFallsBackToDefaultWhenSettingsMissing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeProvider{}
	tokens := &fakeTokens{token: "tok"}
	accounts := &fakeAccountRepo{accounts: []*models.Account{{Name: "acc1", Enabled: true}}}
	settings := &fakeSettingsRepo{} // 开关文档尚未创建

	engine := NewEngine(api, tokens, newFakeStore(), &fakeBroadcaster{}, accounts, &fakeDestinationRepo{}, settings, 30*time.Second, 30, false, func() time.Time { return now })

	engine.dispatch(context.Background())
	engine.wg.Wait()
	if api.fetchCalls != 0 {
		t.Fatalf("missing settings must fall back to default fetch_enabled=false, got %d fetches", api.fetchCalls)
	}
	if settings.getCalls != 1 {
		t.Fatalf("dispatch must consult the toggle each tick, getCalls=%d", settings.getCalls)
	}
}

func TestAcquireSkipsInFlightAccount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := engineFixture(&fakeProvider{}, &fakeTokens{token: "tok"}, newFakeStore(), &fakeBroadcaster{}, &fakeAccountRepo{}, &fakeDestinationRepo{}, now)

	if !engine.acquire("acc1", now) {
		t.Fatalf("first acquire should succeed")
	}
	if engine.acquire("acc1", now) {
		t.Fatalf("second acquire must be rejected while in flight")
	}
	engine.release("acc1")
	if !engine.acquire("acc1", now) {
		t.Fatalf("acquire after release should succeed")
	}
}
