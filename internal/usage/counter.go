// Package usage tracks AI call and token usage against a daily quota.
package usage

import (
	"sync"
	"time"

	"quizlab/internal/logging"
	"quizlab/internal/storage"

	"github.com/charmbracelet/log"
)

// DefaultDailyLimit 默认每日调用上限 / DefaultDailyLimit is the default daily call quota.
const DefaultDailyLimit = 500

// LimitReachedMessage 达到上限时发给 Notifier 的提示
// LimitReachedMessage is sent to the Notifier once today's quota is used up.
const LimitReachedMessage = "今日AI服务调用已达每日上限。"

const dateLayout = "2006-01-02"

// Counter 每日/累计调用与 Token 计数器，超限只提示不拦截
// Counter keeps daily and cumulative call and token counts. Going over the limit is
// reported, never blocked.
type Counter struct {
	kv       storage.KV
	limit    int
	now      func() time.Time
	notifier Notifier
	logger   *log.Logger

	mu          sync.Mutex
	loaded      bool
	date        string
	today       int
	total       int
	todayTokens int
	totalTokens int

	subMu  sync.Mutex
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// Option 配置 Counter / Option configures a Counter.
type Option func(*Counter)

func WithDailyLimit(n int) Option {
	return func(c *Counter) {
		if n >= 0 {
			c.limit = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		if now != nil {
			c.now = now
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Counter) { c.notifier = n }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Counter) { c.logger = logging.OrDefault(l) }
}

// New 创建计数器；调用 Init 之前的首次操作会自动加载持久化状态
// New creates a Counter backed by kv. Persisted state is loaded by Init, or by the first
// operation that needs it.
func New(kv storage.KV, opts ...Option) *Counter {
	c := &Counter{
		kv:     kv,
		limit:  DefaultDailyLimit,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init 加载持久化计数，只执行一次 / Init loads persisted counts once.
func (c *Counter) Init() {
	c.mu.Lock()
	c.ensureLoaded()
	c.mu.Unlock()
}

// Close 预留的生命周期钩子 / Close is a lifecycle hook; it has nothing to release.
func (c *Counter) Close() error { return nil }

func (c *Counter) todayString() string {
	return c.now().UTC().Format(dateLayout)
}

// ensureLoaded 需持有 c.mu / ensureLoaded must be called with c.mu held.
func (c *Counter) ensureLoaded() {
	if c.loaded {
		return
	}
	today := c.todayString()
	c.date = today
	c.today = c.loadDaily(today)
	c.total = c.loadInt(KeyTotalCount)
	c.todayTokens = c.loadDailyTokens(today)
	c.totalTokens = c.loadInt(KeyTotalTokens)
	c.loaded = true
	c.logger.Debug("usage counters loaded", "date", today, "today", c.today, "total", c.total)
}

// IncrementCall 记录一次 AI 调用并累加 Token，返回更新后的快照
// IncrementCall records one AI call and its tokens, persists the counters and returns the
// new snapshot. Subscribers are notified after the lock is released.
func (c *Counter) IncrementCall(tokens int) Snapshot {
	tokens = clamp(tokens)

	c.mu.Lock()
	c.ensureLoaded()
	if today := c.todayString(); c.date != today {
		c.date = today
		c.today = 0
		c.todayTokens = 0
	}
	c.today++
	c.total++
	c.todayTokens += tokens
	c.totalTokens += tokens
	c.saveCalls()
	c.saveTokens()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info("ai call recorded", "today", snap.TodayUsed, "limit", snap.TodayLimit,
		"tokens_today", snap.TodayTokens)
	c.publish(snap)

	if c.limit > 0 && snap.TodayUsed >= c.limit {
		c.logger.Warn("daily api call limit reached", "today", snap.TodayUsed, "limit", c.limit)
		if c.notifier != nil {
			c.notifier.Warn(LimitReachedMessage)
		}
	}
	return snap
}

// TodaysCalls 日期已变时返回 0，但不写回存储
// TodaysCalls returns 0 after a date change without writing anything.
func (c *Counter) TodaysCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	return c.todaysCallsLocked()
}

func (c *Counter) todaysCallsLocked() int {
	if c.date != c.todayString() {
		return 0
	}
	return c.today
}

func (c *Counter) RemainingTodaysCalls() int {
	return c.Snapshot().TodayRemaining
}

func (c *Counter) TodaysProgressPercent() float64 {
	return c.Snapshot().TodayProgressPercent
}

func (c *Counter) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	return c.total
}

func (c *Counter) TodayTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	return c.todayTokens
}

func (c *Counter) TotalTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	return c.totalTokens
}

// DailyLimit 返回配置的每日上限 / DailyLimit returns the configured quota.
func (c *Counter) DailyLimit() int { return c.limit }

// Snapshot 返回当前快照 / Snapshot returns the current counters.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLoaded()
	return c.snapshotLocked()
}

func (c *Counter) snapshotLocked() Snapshot {
	used := c.todaysCallsLocked()
	remaining := c.limit - used
	if remaining < 0 {
		remaining = 0
	}
	var percent float64
	if c.limit > 0 {
		percent = float64(used) / float64(c.limit) * 100
		if percent > 100 {
			percent = 100
		}
	}
	return Snapshot{
		TodayUsed:            used,
		TodayRemaining:       remaining,
		TodayLimit:           c.limit,
		TodayProgressPercent: percent,
		TotalCalls:           c.total,
		TodayTokens:          c.todayTokens,
		TotalTokens:          c.totalTokens,
	}
}

// ResetAllCountsForTesting 清零今日与累计调用次数；Token 计数保持不变
// ResetAllCountsForTesting zeroes today's and total call counts. Token counts are left as is.
func (c *Counter) ResetAllCountsForTesting() Snapshot {
	c.mu.Lock()
	c.ensureLoaded()
	c.date = c.todayString()
	c.today = 0
	c.total = 0
	c.saveCalls()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Warn("all api call counts reset")
	c.publish(snap)
	return snap
}

// Subscribe 注册变更回调，按注册顺序同步调用，不回放历史
// Subscribe registers fn for every later change. Callbacks run synchronously in
// registration order; there is no replay. The returned func unsubscribes.
func (c *Counter) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Counter) publish(snap Snapshot) {
	c.subMu.Lock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()
	for _, s := range subs {
		s.fn(snap)
	}
}
