package storage

import (
	"time"

	"quizlab/internal/chat"
)

// DiagnosticSession 一次诊断对话的完整记录
// DiagnosticSession is one stored conversation transcript.
type DiagnosticSession struct {
	SessionID    string         `json:"sessionId"`
	Conversation []chat.Message `json:"conversation"`
	LastModified int64          `json:"lastModified"`
}

// SessionMeta 会话展示用元数据，与 DiagnosticSession 一一对应
// SessionMeta holds display metadata, 1:1 with DiagnosticSession.
type SessionMeta struct {
	SessionID    string `json:"sessionId"`
	Title        string `json:"title"`
	LastModified int64  `json:"lastModified"`
}

// ModifiedAt 将毫秒时间戳转换为 time.Time
// ModifiedAt converts the millisecond timestamp to a time.Time.
func (m SessionMeta) ModifiedAt() time.Time {
	return time.UnixMilli(m.LastModified)
}
