package storage

import (
	"path/filepath"
	"testing"
)

func TestSQLiteKV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	kv, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}

	if _, ok, err := kv.Get("missing"); err != nil || ok {
		t.Fatalf("Get(missing) ok=%v err=%v", ok, err)
	}
	if err := kv.Set("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set("a", "2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := kv.Get("a")
	if err != nil || !ok || v != "2" {
		t.Fatalf("Get(a)=%q ok=%v err=%v", v, ok, err)
	}
	if err := kv.Close(); err != nil {
		t.Fatal(err)
	}

	// 重新打开后数据仍在 / Values survive reopen
	reopened, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	v, ok, _ = reopened.Get("a")
	if !ok || v != "2" {
		t.Fatalf("after reopen Get(a)=%q ok=%v", v, ok)
	}
	if err := reopened.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := reopened.Get("a"); ok {
		t.Fatal("key should be deleted")
	}
}

func TestMemoryKV(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Set("k", "v")
	if v, ok, _ := kv.Get("k"); !ok || v != "v" {
		t.Fatalf("Get(k)=%q ok=%v", v, ok)
	}
	_ = kv.Delete("k")
	if _, ok, _ := kv.Get("k"); ok {
		t.Fatal("key should be deleted")
	}
}
