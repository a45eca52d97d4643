package usage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"quizlab/internal/logging"
	"quizlab/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// failingKV 模拟存储不可用 / failingKV simulates unavailable storage.
type failingKV struct{}

func (failingKV) Get(string) (string, bool, error) { return "", false, errors.New("quota exceeded") }
func (failingKV) Set(string, string) error         { return errors.New("quota exceeded") }
func (failingKV) Delete(string) error              { return errors.New("quota exceeded") }
func (failingKV) Close() error                     { return nil }

var day1 = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func newCounter(t *testing.T, kv storage.KV, clock *fakeClock, opts ...Option) *Counter {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithLogger(logging.Discard())}, opts...)
	c := New(kv, opts...)
	c.Init()
	return c
}

func TestCounter_IncrementSameDay(t *testing.T) {
	kv := storage.NewMemoryKV()
	c := newCounter(t, kv, newFakeClock(day1))

	for i := 0; i < 7; i++ {
		c.IncrementCall(10)
	}
	assert.Equal(t, 7, c.TodaysCalls())
	assert.Equal(t, 7, c.TotalCalls())
	assert.Equal(t, 70, c.TodayTokens())
	assert.Equal(t, 70, c.TotalTokens())
	assert.Equal(t, DefaultDailyLimit-7, c.RemainingTodaysCalls())

	raw, ok, _ := kv.Get(KeyDailyCount)
	require.True(t, ok)
	assert.JSONEq(t, `{"date":"2025-05-10","count":7}`, raw)
	raw, _, _ = kv.Get(KeyTotalCount)
	assert.Equal(t, "7", raw)
	raw, _, _ = kv.Get(KeyDailyTokens)
	assert.JSONEq(t, `{"date":"2025-05-10","tokens":70}`, raw)
	raw, _, _ = kv.Get(KeyTotalTokens)
	assert.Equal(t, "70", raw)
}

func TestCounter_Rollover(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(KeyDailyCount, `{"date":"2025-05-10","count":499}`))
	require.NoError(t, kv.Set(KeyTotalCount, "1200"))
	require.NoError(t, kv.Set(KeyDailyTokens, `{"date":"2025-05-10","tokens":900}`))
	require.NoError(t, kv.Set(KeyTotalTokens, "5000"))

	clock := newFakeClock(day1)
	c := newCounter(t, kv, clock)
	require.Equal(t, 499, c.TodaysCalls())

	clock.Add(24 * time.Hour)
	// 跨天后未调用前读取为 0 且不写回 / Reads return 0 after midnight without writing.
	assert.Equal(t, 0, c.TodaysCalls())
	raw, _, _ := kv.Get(KeyDailyCount)
	assert.JSONEq(t, `{"date":"2025-05-10","count":499}`, raw)

	snap := c.IncrementCall(5)
	assert.Equal(t, 1, snap.TodayUsed)
	assert.Equal(t, 1201, snap.TotalCalls)
	assert.Equal(t, 5, snap.TodayTokens)
	assert.Equal(t, 5005, snap.TotalTokens)

	raw, _, _ = kv.Get(KeyDailyCount)
	assert.JSONEq(t, `{"date":"2025-05-11","count":1}`, raw)
}

func TestCounter_LoadsStaleDayAsZero(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(KeyDailyCount, `{"date":"2025-05-09","count":42}`))
	require.NoError(t, kv.Set(KeyTotalCount, "42"))

	c := newCounter(t, kv, newFakeClock(day1))
	assert.Equal(t, 0, c.TodaysCalls())
	assert.Equal(t, 42, c.TotalCalls())
}

func TestCounter_RemainingNeverNegative(t *testing.T) {
	c := newCounter(t, storage.NewMemoryKV(), newFakeClock(day1), WithDailyLimit(2))
	for i := 0; i < 5; i++ {
		c.IncrementCall(0)
	}
	assert.Equal(t, 0, c.RemainingTodaysCalls())
	assert.Equal(t, 100.0, c.TodaysProgressPercent())
	assert.True(t, c.Snapshot().LimitReached())
}

func TestCounter_ProgressPercent(t *testing.T) {
	c := newCounter(t, storage.NewMemoryKV(), newFakeClock(day1), WithDailyLimit(4))
	c.IncrementCall(0)
	assert.InDelta(t, 25.0, c.TodaysProgressPercent(), 1e-9)

	zero := newCounter(t, storage.NewMemoryKV(), newFakeClock(day1), WithDailyLimit(0))
	zero.IncrementCall(0)
	assert.Equal(t, 0.0, zero.TodaysProgressPercent())
	assert.Equal(t, 0, zero.RemainingTodaysCalls())
}

func TestCounter_NegativeTokensClamped(t *testing.T) {
	c := newCounter(t, storage.NewMemoryKV(), newFakeClock(day1))
	c.IncrementCall(-50)
	assert.Equal(t, 0, c.TodayTokens())
	assert.Equal(t, 1, c.TodaysCalls())
}

func TestCounter_ResetKeepsTokens(t *testing.T) {
	kv := storage.NewMemoryKV()
	c := newCounter(t, kv, newFakeClock(day1))
	c.IncrementCall(100)
	c.IncrementCall(50)

	snap := c.ResetAllCountsForTesting()
	assert.Equal(t, 0, snap.TodayUsed)
	assert.Equal(t, 0, snap.TotalCalls)
	assert.Equal(t, 150, snap.TodayTokens, "reset must not touch today's tokens")
	assert.Equal(t, 150, snap.TotalTokens, "reset must not touch total tokens")

	raw, _, _ := kv.Get(KeyTotalCount)
	assert.Equal(t, "0", raw)
	raw, _, _ = kv.Get(KeyTotalTokens)
	assert.Equal(t, "150", raw)
}

func TestCounter_PersistsAcrossInstances(t *testing.T) {
	kv := storage.NewMemoryKV()
	clock := newFakeClock(day1)
	first := newCounter(t, kv, clock)
	first.IncrementCall(3)
	first.IncrementCall(4)

	second := newCounter(t, kv, clock)
	assert.Equal(t, 2, second.TodaysCalls())
	assert.Equal(t, 7, second.TotalTokens())
}

func TestCounter_CorruptValuesDegradeToZero(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(KeyDailyCount, "{not json"))
	require.NoError(t, kv.Set(KeyTotalCount, "abc"))
	require.NoError(t, kv.Set(KeyTotalTokens, "-9"))

	c := newCounter(t, kv, newFakeClock(day1))
	assert.Equal(t, 0, c.TodaysCalls())
	assert.Equal(t, 0, c.TotalCalls())
	assert.Equal(t, 0, c.TotalTokens())
}

func TestCounter_StorageFailureDoesNotPropagate(t *testing.T) {
	c := newCounter(t, failingKV{}, newFakeClock(day1))
	assert.NotPanics(t, func() {
		snap := c.IncrementCall(10)
		assert.Equal(t, 1, snap.TodayUsed)
	})
	assert.Equal(t, 1, c.TodaysCalls())
}

func TestCounter_Subscribe(t *testing.T) {
	c := newCounter(t, storage.NewMemoryKV(), newFakeClock(day1))

	var order []string
	var last Snapshot
	unsubA := c.Subscribe(func(s Snapshot) { order = append(order, "a"); last = s })
	c.Subscribe(func(Snapshot) { order = append(order, "b") })

	c.IncrementCall(1)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, last.TodayUsed)

	unsubA()
	unsubA()
	c.ResetAllCountsForTesting()
	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestCounter_SubscriberMayReadCounter(t *testing.T) {
	c := newCounter(t, storage.NewMemoryKV(), newFakeClock(day1))
	var seen int
	c.Subscribe(func(Snapshot) { seen = c.TodaysCalls() })
	c.IncrementCall(0)
	assert.Equal(t, 1, seen)
}

func TestCounter_NotifierWarnsAtLimit(t *testing.T) {
	var warnings []string
	n := NotifierFunc(func(msg string) { warnings = append(warnings, msg) })
	c := newCounter(t, storage.NewMemoryKV(), newFakeClock(day1), WithDailyLimit(2), WithNotifier(n))

	c.IncrementCall(0)
	assert.Empty(t, warnings)
	c.IncrementCall(0)
	c.IncrementCall(0)
	assert.Equal(t, []string{LimitReachedMessage, LimitReachedMessage}, warnings)
}

func TestCounter_SnapshotBeforeInit(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set(KeyTotalCount, "9"))
	c := New(kv, WithClock(newFakeClock(day1).Now), WithLogger(logging.Discard()))
	assert.Equal(t, 9, c.Snapshot().TotalCalls)
}
