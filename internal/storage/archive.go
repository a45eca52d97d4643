package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"quizlab/internal/chat"
)

const (
	metaSuffix         = ".meta.json"
	conversationSuffix = ".conversation.json"
)

// ExportJSON 将全部会话导出为目录中的 JSON 文件，返回导出数量
// ExportJSON writes every session as a pair of JSON files under dir and returns the count.
func ExportJSON(ctx context.Context, store *SQLiteStore, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	metas, err := store.ListSessionsMeta(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, meta := range metas {
		if filepath.Base(meta.SessionID) != meta.SessionID || validateSessionID(meta.SessionID) != nil {
			return count, fmt.Errorf("export session %q: %w", meta.SessionID, ErrInvalidSessionID)
		}
		session, ok, err := store.LoadSession(ctx, meta.SessionID)
		if err != nil {
			return count, err
		}
		if !ok {
			store.logger.Warn("export: conversation missing, skipped", "session", meta.SessionID)
			continue
		}
		if err := writeJSON(filepath.Join(dir, meta.SessionID+metaSuffix), meta); err != nil {
			return count, err
		}
		if err := writeJSON(filepath.Join(dir, meta.SessionID+conversationSuffix), session); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ImportJSON 从目录导入会话；已存在的 ID 会被跳过
// ImportJSON restores sessions exported by ExportJSON. Existing IDs are skipped.
func ImportJSON(ctx context.Context, store *SQLiteStore, dir string) (imported, skipped int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read import dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, metaSuffix)

		var meta SessionMeta
		if err := readJSON(filepath.Join(dir, name), &meta); err != nil {
			return imported, skipped, err
		}
		var session DiagnosticSession
		if err := readJSON(filepath.Join(dir, id+conversationSuffix), &session); err != nil {
			return imported, skipped, err
		}
		switch session.SessionID {
		case "":
			session.SessionID = id
		case id:
		default:
			return imported, skipped, fmt.Errorf("import %s: body id %q does not match file name: %w",
				name, session.SessionID, ErrInvalidSessionID)
		}
		if session.Conversation == nil {
			session.Conversation = []chat.Message{}
		}

		err := store.Restore(ctx, session, meta)
		switch {
		case errors.Is(err, ErrSessionExists):
			skipped++
		case err != nil:
			return imported, skipped, err
		default:
			imported++
		}
	}
	return imported, skipped, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
