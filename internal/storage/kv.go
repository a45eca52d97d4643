package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// KV 同步的本地键值存储（类 localStorage）
// KV is synchronous local key-value storage, the localStorage analogue.
type KV interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// SQLiteKV 基于独立 SQLite 文件的 KV 实现
// SQLiteKV stores keys in a dedicated SQLite file.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV 打开（必要时创建）KV 数据库
// NewSQLiteKV opens, creating if needed, the key-value database.
func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("kv db path is empty")
	}
	ctx := context.Background()
	db, err := openSQLite(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS local_storage (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure kv schema: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

func (k *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := k.db.QueryRow("SELECT value FROM local_storage WHERE key=?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

func (k *SQLiteKV) Set(key, value string) error {
	_, err := k.db.Exec(`
		INSERT INTO local_storage (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (k *SQLiteKV) Delete(key string) error {
	if _, err := k.db.Exec("DELETE FROM local_storage WHERE key=?", key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (k *SQLiteKV) Close() error {
	if k.db == nil {
		return nil
	}
	return k.db.Close()
}

// MemoryKV 进程内 KV，用于测试和 --ephemeral 运行
// MemoryKV keeps keys in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string]string{}}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Close() error { return nil }
