package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"quizlab/internal/chat"
	"quizlab/internal/logging"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// SQLiteStore 基于 SQLite (WAL 模式) 的会话存储，首次使用时才打开数据库
// SQLiteStore implements SessionStore on SQLite (WAL mode); the database opens lazily on first use.
type SQLiteStore struct {
	path   string
	now    func() time.Time
	logger *log.Logger

	mu      sync.RWMutex
	db      *sql.DB
	closed  bool
	opening singleflight.Group

	stampMu   sync.Mutex
	lastStamp int64
}

// Option 配置 SQLiteStore / Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock 替换时间源，测试用 / WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger 注入日志器 / WithLogger injects the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *SQLiteStore) {
		s.logger = logging.OrDefault(l)
	}
}

// NewSQLiteStore 创建存储，不立即打开数据库
// NewSQLiteStore creates the store without opening the database yet.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	s := &SQLiteStore{
		path:   dbPath,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path 返回数据库文件路径 / Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// handle 返回已打开的连接；并发的首次调用共享同一次初始化，失败后下次调用重试
// handle returns the open database. Concurrent first calls share one initialization;
// a failed attempt is reported to all of its waiters and retried by the next call.
func (s *SQLiteStore) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.RLock()
	db, closed := s.db, s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("session store is closed")
	}
	if db != nil {
		return db, nil
	}

	v, err, _ := s.opening.Do("open", func() (any, error) {
		s.mu.RLock()
		existing := s.db
		s.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		// 共享初始化不随首个调用方取消 / The shared open outlives the first caller's cancellation.
		opened, err := openSQLite(context.WithoutCancel(ctx), s.path)
		if err != nil {
			s.logger.Error("open session store failed", "path", s.path, "err", err)
			return nil, err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = opened.Close()
			return nil, fmt.Errorf("session store is closed")
		}
		s.db = opened
		s.mu.Unlock()
		s.logger.Debug("session store initialized", "path", s.path)
		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func openSQLite(ctx context.Context, dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接串行化事务，且 PRAGMA 对该连接持续生效
	// One connection serializes transactions and keeps the PRAGMAs applied.
	db.SetMaxOpenConns(1)

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS diagnostic_sessions (
		session_id    TEXT PRIMARY KEY,
		conversation  TEXT NOT NULL DEFAULT '[]',
		last_modified INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS diagnostic_sessions_meta (
		session_id    TEXT PRIMARY KEY,
		title         TEXT NOT NULL DEFAULT '',
		last_modified INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_meta_last_modified ON diagnostic_sessions_meta(last_modified);

	PRAGMA user_version = %d;
	`, schemaVersion)
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// stamp 返回严格递增的写入时间戳（毫秒），同一毫秒内的写入也能区分先后
// stamp returns a strictly increasing write timestamp in milliseconds.
func (s *SQLiteStore) stamp(now time.Time) int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	s.lastStamp = max(now.UnixMilli(), s.lastStamp+1)
	return s.lastStamp
}

// validateSessionID 拒绝空 ID 以及可能逃逸导出目录的 ID
// validateSessionID rejects empty IDs and IDs that are not a single path element.
func validateSessionID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return ErrInvalidSessionID
	case strings.ContainsAny(id, `/\`), strings.Contains(id, ".."), filepath.Base(id) != id:
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// --- Session Operations ---

func (s *SQLiteStore) CreateSession(ctx context.Context, initial []chat.Message) (string, error) {
	now := s.now()
	id, err := NewSessionID(now)
	if err != nil {
		return "", err
	}
	meta := SessionMeta{SessionID: id, Title: DefaultTitle(now), LastModified: s.stamp(now)}
	session := DiagnosticSession{SessionID: id, Conversation: initial, LastModified: meta.LastModified}
	if err := s.insert(ctx, session, meta); err != nil {
		return "", err
	}
	s.logger.Debug("session created", "session", id, "messages", len(initial))
	return id, nil
}

// Restore 按原样写入会话与元数据（保留 ID 与时间戳），用于导入
// Restore inserts a session and its meta verbatim, keeping IDs and timestamps. Used by imports.
func (s *SQLiteStore) Restore(ctx context.Context, session DiagnosticSession, meta SessionMeta) error {
	if err := validateSessionID(session.SessionID); err != nil {
		return err
	}
	meta.SessionID = session.SessionID
	return s.insert(ctx, session, meta)
}

func (s *SQLiteStore) insert(ctx context.Context, session DiagnosticSession, meta SessionMeta) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	conversation, err := encodeConversation(session.Conversation)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM diagnostic_sessions WHERE session_id=?
		UNION SELECT 1 FROM diagnostic_sessions_meta WHERE session_id=?`,
		session.SessionID, session.SessionID).Scan(&exists)
	switch {
	case err == nil:
		return fmt.Errorf("insert session %s: %w", session.SessionID, ErrSessionExists)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO diagnostic_sessions (session_id, conversation, last_modified) VALUES (?, ?, ?)`,
		session.SessionID, conversation, session.LastModified); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO diagnostic_sessions_meta (session_id, title, last_modified) VALUES (?, ?, ?)`,
		meta.SessionID, meta.Title, meta.LastModified); err != nil {
		return fmt.Errorf("insert session meta: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) ([]chat.Message, bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, false, err
	}
	var raw string
	err = db.QueryRowContext(ctx,
		"SELECT conversation FROM diagnostic_sessions WHERE session_id=?", sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	messages, err := decodeConversation(raw)
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return messages, true, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, history []chat.Message) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	conversation, err := encodeConversation(history)
	if err != nil {
		return err
	}
	now := s.stamp(s.now())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// 整体覆盖（put 语义），不存在时插入
	// Wholesale put: inserts when the session does not exist yet.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO diagnostic_sessions (session_id, conversation, last_modified) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET conversation=excluded.conversation, last_modified=excluded.last_modified`,
		sessionID, conversation, now); err != nil {
		return fmt.Errorf("put session: %w", err)
	}

	var title string
	err = tx.QueryRowContext(ctx,
		"SELECT title FROM diagnostic_sessions_meta WHERE session_id=?", sessionID).Scan(&title)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// 元数据缺失时静默跳过 / Missing meta is tolerated silently.
		s.logger.Debug("session meta missing, skipped", "session", sessionID)
	case err != nil:
		return fmt.Errorf("load session meta: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			"UPDATE diagnostic_sessions_meta SET title=?, last_modified=? WHERE session_id=?",
			applyTitleRule(title, history), now, sessionID); err != nil {
			return fmt.Errorf("update session meta: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListSessionsMeta(ctx context.Context) ([]SessionMeta, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT session_id, title, last_modified FROM diagnostic_sessions_meta")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	metas := []SessionMeta{}
	for rows.Next() {
		var meta SessionMeta
		if err := rows.Scan(&meta.SessionID, &meta.Title, &meta.LastModified); err != nil {
			return nil, fmt.Errorf("scan session meta: %w", err)
		}
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sortMetas(metas)
	return metas, nil
}

// sortMetas 不依赖索引顺序，显式按 LastModified 倒序排序
// sortMetas orders by LastModified descending without relying on index order.
func sortMetas(metas []SessionMeta) {
	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].LastModified != metas[j].LastModified {
			return metas[i].LastModified > metas[j].LastModified
		}
		return metas[i].SessionID > metas[j].SessionID
	})
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSessionID
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM diagnostic_sessions WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM diagnostic_sessions_meta WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete session meta: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) LatestSessionID(ctx context.Context) (string, error) {
	metas, err := s.ListSessionsMeta(ctx)
	if err != nil {
		return "", err
	}
	if len(metas) == 0 {
		return "", nil
	}
	return metas[0].SessionID, nil
}

// LoadMeta 读取单个会话的元数据 / LoadMeta returns the meta record of one session.
func (s *SQLiteStore) LoadMeta(ctx context.Context, sessionID string) (SessionMeta, bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return SessionMeta{}, false, err
	}
	meta := SessionMeta{SessionID: sessionID}
	err = db.QueryRowContext(ctx,
		"SELECT title, last_modified FROM diagnostic_sessions_meta WHERE session_id=?", sessionID).
		Scan(&meta.Title, &meta.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionMeta{}, false, nil
		}
		return SessionMeta{}, false, fmt.Errorf("load session meta: %w", err)
	}
	return meta, true, nil
}

// LoadSession 读取会话完整记录 / LoadSession returns the full session record.
func (s *SQLiteStore) LoadSession(ctx context.Context, sessionID string) (DiagnosticSession, bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return DiagnosticSession{}, false, err
	}
	var raw string
	session := DiagnosticSession{SessionID: sessionID}
	err = db.QueryRowContext(ctx,
		"SELECT conversation, last_modified FROM diagnostic_sessions WHERE session_id=?", sessionID).
		Scan(&raw, &session.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DiagnosticSession{}, false, nil
		}
		return DiagnosticSession{}, false, fmt.Errorf("load session: %w", err)
	}
	session.Conversation, err = decodeConversation(raw)
	if err != nil {
		return DiagnosticSession{}, false, err
	}
	return session, true, nil
}
