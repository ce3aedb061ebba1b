package relay

import (
	"context"
	"sync"
	"time"

	"otp_bot/internal/logger"
	"otp_bot/internal/provider"
	"otp_bot/internal/relay/models"
	"otp_bot/internal/relay/repository"
	"otp_bot/internal/relay/sender"
	"otp_bot/internal/relay/service"
)

// Broadcaster 群发接口（*sender.Sender 实现）
type Broadcaster interface {
	Broadcast(ctx context.Context, destinations []*models.Destination, text, copyValue string) *sender.Result
}

// accountState 单账号的调度状态
type accountState struct {
	inFlight     bool      // 上一轮取件尚未结束
	failures     int       // 连续传输错误次数
	backoffUntil time.Time // 退避截止时间
}

const maxCycleBackoff = 10 * time.Minute

// Engine 取件转发引擎
// 每个启用账号独立取件：同一 tick 内并发执行，单账号内部串行且不重叠
type Engine struct {
	api             service.ProviderAPI
	tokens          service.TokenManager
	store           service.DedupStore
	broadcaster     Broadcaster
	accountRepo     repository.AccountRepository
	destinationRepo repository.DestinationRepository
	settingsRepo    repository.SettingsRepository

	pollInterval time.Duration
	fetchLimit   int
	// fetchEnabled 是数据库里没有开关文档时的默认值
	fetchEnabled bool
	nowFunc      func() time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	statesMu sync.Mutex
	states   map[string]*accountState
}

// NewEngine 创建取件转发引擎
func NewEngine(
	api service.ProviderAPI,
	tokens service.TokenManager,
	store service.DedupStore,
	broadcaster Broadcaster,
	accountRepo repository.AccountRepository,
	destinationRepo repository.DestinationRepository,
	settingsRepo repository.SettingsRepository,
	pollInterval time.Duration,
	fetchLimit int,
	fetchEnabled bool,
	nowFunc func() time.Time,
) *Engine {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Engine{
		api:             api,
		tokens:          tokens,
		store:           store,
		broadcaster:     broadcaster,
		accountRepo:     accountRepo,
		destinationRepo: destinationRepo,
		settingsRepo:    settingsRepo,
		pollInterval:    pollInterval,
		fetchLimit:      fetchLimit,
		fetchEnabled:    fetchEnabled,
		nowFunc:         nowFunc,
		states:          make(map[string]*accountState),
	}
}

// Start 启动引擎
func (e *Engine) Start() {
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx)
	}()

	logger.L().Infof("Relay engine started, poll interval %v", e.pollInterval)
}

// Stop 停止引擎并等待在途取件结束
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.cancel = nil
	logger.L().Info("Relay engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// 启动后立即执行第一轮，不等首个 tick
	e.dispatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.dispatch(ctx)
		}
	}
}

// fetchAllowed 读取全局取件开关，开关在每轮开始前生效，不打断进行中的轮次
func (e *Engine) fetchAllowed(ctx context.Context) bool {
	settings, err := e.settingsRepo.Get(ctx)
	if err != nil {
		logger.L().Warnf("Failed to read runtime settings, falling back to default fetch_enabled=%v: %v", e.fetchEnabled, err)
		return e.fetchEnabled
	}
	if settings == nil {
		return e.fetchEnabled
	}
	return settings.FetchEnabled
}

// dispatch 为每个启用账号启动一轮取件
// 账号列表每轮重新读取，新增账号下一个 tick 自动纳入
func (e *Engine) dispatch(ctx context.Context) {
	if !e.fetchAllowed(ctx) {
		logger.L().Debug("Fetching disabled, skipping tick")
		return
	}

	accounts, err := e.accountRepo.ListEnabled(ctx)
	if err != nil {
		logger.L().Errorf("Failed to list enabled accounts: %v", err)
		return
	}

	now := e.nowFunc()
	for _, account := range accounts {
		if !e.acquire(account.Name, now) {
			continue
		}

		e.wg.Add(1)
		go func(acc *models.Account) {
			defer e.wg.Done()
			defer e.release(acc.Name)
			e.runCycle(ctx, acc)
		}(account)
	}
}

// getState 取出（必要时创建）账号的调度状态，须持有 statesMu
func (e *Engine) getState(accountName string) *accountState {
	state, ok := e.states[accountName]
	if !ok {
		state = &accountState{}
		e.states[accountName] = state
	}
	return state
}

// acquire 尝试占用账号的取件槽位，处于退避期或上轮未结束时返回 false
func (e *Engine) acquire(accountName string, now time.Time) bool {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()

	state := e.getState(accountName)

	if state.inFlight {
		logger.L().Debugf("Account %s: previous cycle still running, skipping tick", accountName)
		return false
	}
	if now.Before(state.backoffUntil) {
		logger.L().Debugf("Account %s: in backoff until %s, skipping tick", accountName, state.backoffUntil.Format(time.RFC3339))
		return false
	}

	state.inFlight = true
	return true
}

func (e *Engine) release(accountName string) {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	if state, ok := e.states[accountName]; ok {
		state.inFlight = false
	}
}

// noteTransportFailure 记录一次传输失败并指数退避
func (e *Engine) noteTransportFailure(accountName string) {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()

	state := e.getState(accountName)
	state.failures++

	// 逐步翻倍而非直接移位，连续失败次数很大时移位会溢出归零
	backoff := e.pollInterval
	for i := 1; i < state.failures && backoff < maxCycleBackoff; i++ {
		backoff <<= 1
	}
	if backoff > maxCycleBackoff {
		backoff = maxCycleBackoff
	}
	state.backoffUntil = e.nowFunc().Add(backoff)
	logger.L().Warnf("Account %s: transport failure #%d, backing off %v", accountName, state.failures, backoff)
}

func (e *Engine) noteSuccess(accountName string) {
	e.statesMu.Lock()
	defer e.statesMu.Unlock()
	if state := e.states[accountName]; state != nil {
		state.failures = 0
		state.backoffUntil = time.Time{}
	}
}

// runCycle 单账号的一轮取件转发
func (e *Engine) runCycle(ctx context.Context, account *models.Account) {
	day := e.nowFunc().UTC().Format("2006-01-02")
	if err := e.store.Rotate(ctx, day); err != nil {
		logger.L().Errorf("Account %s: dedup rotation failed: %v", account.Name, err)
		return
	}

	token, err := e.tokens.GetValidToken(ctx, account.Name)
	if err != nil {
		// 认证失败跳过本轮，等待凭据修复；传输失败进入退避
		if provider.IsAuthError(err) {
			logger.L().Warnf("Account %s: authentication failed, skipping cycle: %v", account.Name, err)
			return
		}
		e.noteTransportFailure(account.Name)
		logger.L().Errorf("Account %s: failed to obtain token: %v", account.Name, err)
		return
	}

	messages, err := e.api.FetchMessages(ctx, token, account.Cursor, e.fetchLimit)
	if err != nil {
		if provider.IsAuthError(err) {
			// token 已失效，作废后下一轮重新登录
			if invErr := e.tokens.Invalidate(ctx, account.Name); invErr != nil {
				logger.L().Warnf("Account %s: failed to invalidate token: %v", account.Name, invErr)
			}
			logger.L().Warnf("Account %s: token rejected, skipping cycle", account.Name)
			return
		}
		e.noteTransportFailure(account.Name)
		logger.L().Errorf("Account %s: fetch failed: %v", account.Name, err)
		return
	}

	e.noteSuccess(account.Name)

	if len(messages) == 0 {
		return
	}
	logger.L().Infof("Account %s: fetched %d message(s)", account.Name, len(messages))

	e.processMessages(ctx, account, day, messages)
}

// processMessages 按接收时间顺序转发，游标只在消息成功处理后推进
// 停机只在消息边界生效：已开始的投递连同去重标记、游标写入一并完成，
// 不能把一条消息投到一半就丢下落库步骤
func (e *Engine) processMessages(ctx context.Context, account *models.Account, day string, messages []models.Message) {
	var lastCursor string
	batchCtx := context.WithoutCancel(ctx)

	for i := range messages {
		if ctx.Err() != nil {
			break
		}
		msg := &messages[i]
		msg.Account = account.Name

		seen, err := e.store.HasSeen(batchCtx, day, msg.DedupKey())
		if err != nil {
			logger.L().Errorf("Account %s: dedup check failed for %s: %v", account.Name, msg.ID, err)
			break
		}
		if seen {
			lastCursor = msg.ReceivedAt.Format(time.RFC3339)
			continue
		}

		destinations, err := e.destinationRepo.ListEnabled(batchCtx)
		if err != nil {
			logger.L().Errorf("Account %s: failed to list destinations: %v", account.Name, err)
			break
		}
		if len(destinations) == 0 {
			// 没有目标时不标记不推进，待配置后重新投递
			logger.L().Warn("No enabled destinations, holding messages")
			break
		}

		text := FormatMessage(msg)
		code := ExtractCode(msg.Body)
		result := e.broadcaster.Broadcast(batchCtx, destinations, text, code)

		// 不可达的群组直接停用，后续轮次不再投递
		for _, chatID := range result.Gone {
			if err := e.destinationRepo.SetEnabled(batchCtx, chatID, false); err != nil {
				logger.L().Warnf("Failed to disable destination %d: %v", chatID, err)
			}
		}

		if len(result.Delivered) == 0 {
			logger.L().Errorf("Account %s: message %s delivered to 0 destination(s), will retry next cycle", account.Name, msg.ID)
			break
		}

		if err := e.store.MarkSeen(batchCtx, day, msg.DedupKey()); err != nil {
			logger.L().Errorf("Account %s: failed to mark message %s seen: %v", account.Name, msg.ID, err)
			break
		}

		entry := models.SentEntry{
			MessageID:    msg.ID,
			Account:      account.Name,
			ServiceName:  msg.ServiceName,
			Number:       msg.Number,
			Range:        msg.Range,
			Code:         code,
			Destinations: result.Delivered,
			SentAt:       e.nowFunc(),
		}
		if err := e.store.RecordSent(batchCtx, day, entry); err != nil {
			logger.L().Warnf("Account %s: failed to record sent entry: %v", account.Name, err)
		}

		logger.L().Infof("Account %s: message %s (%s) delivered to %d destination(s), dispatch=%s",
			account.Name, msg.ID, msg.ServiceName, len(result.Delivered), result.DispatchID)

		lastCursor = msg.ReceivedAt.Format(time.RFC3339)
	}

	if lastCursor != "" && lastCursor != account.Cursor {
		if err := e.accountRepo.UpdateCursor(batchCtx, account.Name, lastCursor); err != nil {
			logger.L().Errorf("Account %s: failed to advance cursor: %v", account.Name, err)
		}
	}
}
