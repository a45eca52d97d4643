package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quizlab/internal/chat"
)

const (
	// DefaultTitlePrefix 新会话默认标题前缀；只有带此前缀的标题才会被自动改写
	// DefaultTitlePrefix marks a title that has not been derived from the conversation yet.
	DefaultTitlePrefix = "诊断 "

	titleMaxRunes  = 30
	titleEllipsis  = "..."
	titleTimestamp = "2006/1/2 15:04:05"
)

// DefaultTitle 返回基于创建时间的占位标题
// DefaultTitle returns the placeholder title derived from the creation time.
func DefaultTitle(created time.Time) string {
	return DefaultTitlePrefix + created.Local().Format(titleTimestamp)
}

// applyTitleRule 在会话首次从空变为非空时，用首条非 system 消息改写占位标题
// applyTitleRule rewrites a placeholder title from the first non-system message.
// It only fires when the history holds more than one message.
func applyTitleRule(current string, history []chat.Message) string {
	if len(history) <= 1 || !strings.HasPrefix(current, DefaultTitlePrefix) {
		return current
	}
	for _, msg := range history {
		if msg.Role == chat.RoleSystem {
			continue
		}
		if msg.Content == "" {
			return current
		}
		return truncateTitle(msg.Content)
	}
	return current
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) > titleMaxRunes {
		return string(runes[:titleMaxRunes]) + titleEllipsis
	}
	return content
}

func encodeConversation(messages []chat.Message) (string, error) {
	if messages == nil {
		messages = []chat.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("marshal conversation: %w", err)
	}
	return string(data), nil
}

func decodeConversation(raw string) ([]chat.Message, error) {
	messages := []chat.Message{}
	if strings.TrimSpace(raw) == "" {
		return messages, nil
	}
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("parse conversation: %w", err)
	}
	return messages, nil
}
