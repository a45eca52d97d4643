package storage

import (
	"context"
	"errors"

	"quizlab/internal/chat"
)

var (
	// ErrSessionExists 插入时主键冲突 / ErrSessionExists reports a session ID collision on insert.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidSessionID 会话 ID 为空或不是单一路径段 / ErrInvalidSessionID reports an empty or path-like session ID.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// SessionStore 诊断会话持久化接口
// SessionStore persists diagnostic conversation transcripts and their display metadata.
type SessionStore interface {
	// CreateSession 创建会话及其元数据，返回新 ID
	// CreateSession inserts a session and its meta record and returns the new ID.
	CreateSession(ctx context.Context, initial []chat.Message) (string, error)

	// GetSession 读取会话内容；不存在时 ok=false
	// GetSession returns the stored conversation; ok is false when the session is absent.
	GetSession(ctx context.Context, sessionID string) (messages []chat.Message, ok bool, err error)

	// UpdateSession 整体替换会话内容并刷新元数据
	// UpdateSession replaces the conversation wholesale and refreshes the meta record.
	UpdateSession(ctx context.Context, sessionID string, history []chat.Message) error

	// ListSessionsMeta 按 LastModified 倒序返回全部元数据
	// ListSessionsMeta returns every meta record, most recently modified first.
	ListSessionsMeta(ctx context.Context) ([]SessionMeta, error)

	// DeleteSession 同时删除会话与元数据
	// DeleteSession removes a session and its meta record together.
	DeleteSession(ctx context.Context, sessionID string) error

	// LatestSessionID 返回最近修改的会话 ID；无会话时返回 ""
	// LatestSessionID returns the most recently modified session ID, or "" when none exist.
	LatestSessionID(ctx context.Context) (string, error)

	Close() error
}
