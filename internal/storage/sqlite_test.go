package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"quizlab/internal/chat"
	"quizlab/internal/logging"
)

// steppingClock 每次调用前进一秒，保证 LastModified 严格递增
// steppingClock advances one second per call so LastModified strictly increases.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t0 = t0.Add(time.Second)
		return t0
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath, WithClock(steppingClock()), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStore_LazyOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "lazy.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatalf("db file should not exist before first use, stat err=%v", err)
	}
	if _, err := store.ListSessionsMeta(context.Background()); err != nil {
		t.Fatalf("ListSessionsMeta: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("db file should exist after first use: %v", err)
	}
}

func TestSQLiteStore_ConcurrentFirstUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.CreateSession(ctx, nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("CreateSession: %v", err)
	}

	metas, err := store.ListSessionsMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 16 {
		t.Fatalf("len(metas)=%d, want 16", len(metas))
	}
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	initial := []chat.Message{{Role: chat.RoleSystem, Content: "be helpful"}}
	id, err := store.CreateSession(ctx, initial)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !strings.HasPrefix(id, "diag-") {
		t.Fatalf("id=%q, want diag- prefix", id)
	}

	msgs, ok, err := store.GetSession(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetSession ok=%v err=%v", ok, err)
	}
	if len(msgs) != 1 || msgs[0].Content != "be helpful" {
		t.Fatalf("msgs=%+v", msgs)
	}

	meta, ok, err := store.LoadMeta(ctx, id)
	if err != nil || !ok {
		t.Fatalf("LoadMeta ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(meta.Title, DefaultTitlePrefix) {
		t.Fatalf("title=%q, want default prefix", meta.Title)
	}
}

func TestSQLiteStore_CreateEmptySession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	msgs, ok, err := store.GetSession(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetSession ok=%v err=%v", ok, err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("msgs=%#v, want empty non-nil slice", msgs)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	msgs, ok, err := store.GetSession(context.Background(), "diag-0-missing")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if ok || msgs != nil {
		t.Fatalf("ok=%v msgs=%v, want absent", ok, msgs)
	}
}

func TestSQLiteStore_UpdateDerivesTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, []chat.Message{{Role: chat.RoleSystem, Content: "sys"}})
	if err != nil {
		t.Fatal(err)
	}
	before, _, _ := store.LoadMeta(ctx, id)

	history := []chat.Message{
		{Role: chat.RoleSystem, Content: "sys"},
		{Role: chat.RoleUser, Content: "Why is the sky blue? It is a long question indeed"},
	}
	if err := store.UpdateSession(ctx, id, history); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	meta, _, _ := store.LoadMeta(ctx, id)
	if meta.Title != "Why is the sky blue? It is a l..." {
		t.Fatalf("title=%q", meta.Title)
	}
	if meta.LastModified <= before.LastModified {
		t.Fatalf("LastModified=%d, want > %d", meta.LastModified, before.LastModified)
	}

	// 标题一旦改写不再变化 / A derived title stays fixed.
	history = append(history, chat.Message{Role: chat.RoleAssistant, Content: "Rayleigh scattering"},
		chat.Message{Role: chat.RoleUser, Content: "another question"})
	if err := store.UpdateSession(ctx, id, history); err != nil {
		t.Fatal(err)
	}
	meta, _, _ = store.LoadMeta(ctx, id)
	if meta.Title != "Why is the sky blue? It is a l..." {
		t.Fatalf("title changed to %q", meta.Title)
	}

	msgs, _, _ := store.GetSession(ctx, id)
	if !reflect.DeepEqual(msgs, history) {
		t.Fatalf("msgs=%+v, want %+v", msgs, history)
	}
}

func TestSQLiteStore_UpdateEmptySession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	history := []chat.Message{
		{Role: chat.RoleUser, Content: "first question"},
		{Role: chat.RoleAssistant, Content: "first answer"},
	}
	if err := store.UpdateSession(ctx, id, history); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	msgs, ok, err := store.GetSession(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetSession ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(msgs, history) {
		t.Fatalf("msgs=%+v, want %+v", msgs, history)
	}
	meta, _, _ := store.LoadMeta(ctx, id)
	if meta.Title != "first question" {
		t.Fatalf("title=%q, want first question", meta.Title)
	}
}

func TestSQLiteStore_UpdateWithoutMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	history := []chat.Message{{Role: chat.RoleUser, Content: "orphan"}}
	if err := store.UpdateSession(ctx, "diag-1-orphan0", history); err != nil {
		t.Fatalf("UpdateSession without meta: %v", err)
	}
	msgs, ok, err := store.GetSession(ctx, "diag-1-orphan0")
	if err != nil || !ok || len(msgs) != 1 {
		t.Fatalf("GetSession ok=%v len=%d err=%v", ok, len(msgs), err)
	}
	if _, ok, _ := store.LoadMeta(ctx, "diag-1-orphan0"); ok {
		t.Fatal("meta should not be created by UpdateSession")
	}
}

func TestSQLiteStore_UpdateEmptyID(t *testing.T) {
	store := newTestStore(t)
	if err := store.UpdateSession(context.Background(), "", nil); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("err=%v, want ErrInvalidSessionID", err)
	}
}

func TestSQLiteStore_RejectsPathLikeIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"../escaped", "a/b", `a\b`, "..", "diag-1-..x", "/abs"} {
		if err := store.UpdateSession(ctx, id, nil); !errors.Is(err, ErrInvalidSessionID) {
			t.Fatalf("UpdateSession(%q) err=%v, want ErrInvalidSessionID", id, err)
		}
		err := store.Restore(ctx, DiagnosticSession{SessionID: id}, SessionMeta{Title: "x"})
		if !errors.Is(err, ErrInvalidSessionID) {
			t.Fatalf("Restore(%q) err=%v, want ErrInvalidSessionID", id, err)
		}
	}
	metas, err := store.ListSessionsMeta(ctx)
	if err != nil || len(metas) != 0 {
		t.Fatalf("metas=%v err=%v, want none", ids(metas), err)
	}
}

func TestSQLiteStore_ListOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.CreateSession(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}

	metas, err := store.ListSessionsMeta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 || metas[0].SessionID != b || metas[1].SessionID != a {
		t.Fatalf("order=%v, want [%s %s]", ids(metas), b, a)
	}

	// 更新 a 后 a 排在最前 / Updating a moves it to the front.
	if err := store.UpdateSession(ctx, a, []chat.Message{{Role: chat.RoleUser, Content: "hi"}}); err != nil {
		t.Fatal(err)
	}
	metas, _ = store.ListSessionsMeta(ctx)
	if metas[0].SessionID != a || metas[1].SessionID != b {
		t.Fatalf("order=%v, want [%s %s]", ids(metas), a, b)
	}

	latest, err := store.LatestSessionID(ctx)
	if err != nil || latest != a {
		t.Fatalf("LatestSessionID=%q err=%v, want %q", latest, err, a)
	}
}

func TestSQLiteStore_ListOrderingSameMillisecond(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "fixed.db"),
		WithClock(func() time.Time { return fixed }), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		a, err := store.CreateSession(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		b, err := store.CreateSession(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.UpdateSession(ctx, a, []chat.Message{{Role: chat.RoleUser, Content: "hi"}}); err != nil {
			t.Fatal(err)
		}
		metas, err := store.ListSessionsMeta(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if metas[0].SessionID != a || metas[1].SessionID != b {
			t.Fatalf("round %d order=%v, want [%s %s ...]", i, ids(metas), a, b)
		}
		if metas[0].LastModified <= metas[1].LastModified {
			t.Fatalf("round %d stamps %d <= %d", i, metas[0].LastModified, metas[1].LastModified)
		}
	}
}

func TestSQLiteStore_OpenSurvivesCancelledCaller(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 首个调用方已取消，共享的初始化仍然完成 / The shared open completes for a cancelled first caller.
	if _, err := store.handle(ctx); err != nil {
		t.Fatalf("handle with cancelled ctx: %v", err)
	}
	if _, err := store.ListSessionsMeta(context.Background()); err != nil {
		t.Fatalf("ListSessionsMeta: %v", err)
	}
}

func TestSQLiteStore_LatestEmpty(t *testing.T) {
	store := newTestStore(t)
	latest, err := store.LatestSessionID(context.Background())
	if err != nil || latest != "" {
		t.Fatalf("LatestSessionID=%q err=%v, want empty", latest, err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, _ := store.CreateSession(ctx, nil)
	keep, _ := store.CreateSession(ctx, nil)
	if err := store.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := store.GetSession(ctx, id); ok {
		t.Fatal("session should be deleted")
	}
	if _, ok, _ := store.LoadMeta(ctx, id); ok {
		t.Fatal("meta should be deleted")
	}
	metas, _ := store.ListSessionsMeta(ctx)
	if len(metas) != 1 || metas[0].SessionID != keep {
		t.Fatalf("remaining=%v, want [%s]", ids(metas), keep)
	}

	// 删除不存在的会话不报错 / Deleting an unknown session is a no-op.
	if err := store.DeleteSession(ctx, "diag-0-unknown"); err != nil {
		t.Fatalf("DeleteSession unknown: %v", err)
	}
}

func TestSQLiteStore_RestoreCollision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := DiagnosticSession{SessionID: "diag-5-abcdefg", LastModified: 5}
	meta := SessionMeta{Title: "imported", LastModified: 5}
	if err := store.Restore(ctx, session, meta); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	err := store.Restore(ctx, session, meta)
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("err=%v, want ErrSessionExists", err)
	}

	loaded, ok, err := store.LoadMeta(ctx, "diag-5-abcdefg")
	if err != nil || !ok || loaded.Title != "imported" || loaded.LastModified != 5 {
		t.Fatalf("meta=%+v ok=%v err=%v", loaded, ok, err)
	}
}

func TestSQLiteStore_Closed(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateSession(context.Background(), nil); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	first, _ := NewSQLiteStore(dbPath)
	id, err := first.CreateSession(ctx, []chat.Message{{Role: chat.RoleUser, Content: "persist me"}})
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second, _ := NewSQLiteStore(dbPath)
	t.Cleanup(func() { _ = second.Close() })
	msgs, ok, err := second.GetSession(ctx, id)
	if err != nil || !ok || len(msgs) != 1 || msgs[0].Content != "persist me" {
		t.Fatalf("msgs=%+v ok=%v err=%v", msgs, ok, err)
	}
}

func ids(metas []SessionMeta) []string {
	out := make([]string, 0, len(metas))
	for _, m := range metas {
		out = append(out, m.SessionID)
	}
	return out
}
