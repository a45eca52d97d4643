package usage

// Snapshot 计数器的一次只读快照，字段名与前端事件负载一致
// Snapshot is a read-only view of the counters. JSON names match the UI event payload.
type Snapshot struct {
	TodayUsed            int     `json:"todayUsed"`
	TodayRemaining       int     `json:"todayRemaining"`
	TodayLimit           int     `json:"todayLimit"`
	TodayProgressPercent float64 `json:"todayProgressPercent"`
	TotalCalls           int     `json:"totalCalls"`
	TodayTokens          int     `json:"todayTokens"`
	TotalTokens          int     `json:"totalTokens"`
}

// LimitReached 今日调用次数是否已达上限 / LimitReached reports whether today's quota is used up.
func (s Snapshot) LimitReached() bool {
	return s.TodayLimit > 0 && s.TodayUsed >= s.TodayLimit
}

// Notifier 面向用户的警告出口 / Notifier surfaces user-facing warnings.
type Notifier interface {
	Warn(message string)
}

// NotifierFunc 将普通函数适配为 Notifier
// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Warn(message string) { f(message) }
