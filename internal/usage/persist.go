package usage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// 持久化键名，与已部署的浏览器数据保持兼容
// Persisted key names, compatible with data already in the field.
const (
	KeyDailyCount  = "apiCallCount_today_v2"
	KeyTotalCount  = "apiCallCount_total_v2"
	KeyDailyTokens = "apiTokenCount_today_v1"
	KeyTotalTokens = "apiTokenCount_total_v1"
)

type dailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type dailyTokens struct {
	Date   string `json:"date"`
	Tokens int    `json:"tokens"`
}

// loadDaily 读取当天计数；日期不符、缺失或损坏时返回 0
// loadDaily returns today's count, or 0 when the record is stale, missing or corrupt.
func (c *Counter) loadDaily(today string) int {
	raw, ok := c.get(KeyDailyCount)
	if !ok {
		return 0
	}
	var rec dailyCount
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.logger.Warn("parse daily call count", "key", KeyDailyCount, "err", err)
		return 0
	}
	if rec.Date != today {
		return 0
	}
	return clamp(rec.Count)
}

func (c *Counter) loadDailyTokens(today string) int {
	raw, ok := c.get(KeyDailyTokens)
	if !ok {
		return 0
	}
	var rec dailyTokens
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.logger.Warn("parse daily token count", "key", KeyDailyTokens, "err", err)
		return 0
	}
	if rec.Date != today {
		return 0
	}
	return clamp(rec.Tokens)
}

func (c *Counter) loadInt(key string) int {
	raw, ok := c.get(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		c.logger.Warn("parse counter", "key", key, "err", err)
		return 0
	}
	return clamp(n)
}

func (c *Counter) get(key string) (string, bool) {
	raw, ok, err := c.kv.Get(key)
	if err != nil {
		c.logger.Warn("load usage counter", "key", key, "err", err)
		return "", false
	}
	return raw, ok
}

func (c *Counter) saveCalls() {
	c.setJSON(KeyDailyCount, dailyCount{Date: c.date, Count: c.today})
	c.set(KeyTotalCount, strconv.Itoa(c.total))
}

func (c *Counter) saveTokens() {
	c.setJSON(KeyDailyTokens, dailyTokens{Date: c.date, Tokens: c.todayTokens})
	c.set(KeyTotalTokens, strconv.Itoa(c.totalTokens))
}

func (c *Counter) setJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("encode usage counter", "key", key, "err", err)
		return
	}
	c.set(key, string(data))
}

func (c *Counter) set(key, value string) {
	if err := c.kv.Set(key, value); err != nil {
		c.logger.Warn("save usage counter", "key", key, "err", fmt.Errorf("set %s: %w", key, err))
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
