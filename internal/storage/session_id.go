package storage

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	sessionIDPrefix = "diag"
	suffixLen       = 7
	base36Alphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// NewSessionID 生成 diag-<毫秒>-<7 位 base36> 形式的会话 ID
// NewSessionID returns an ID of the form diag-<unix ms>-<7 base36 chars>.
// Not guaranteed unique; inserts detect collisions.
func NewSessionID(now time.Time) (string, error) {
	buf := make([]byte, suffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	for i, b := range buf {
		buf[i] = base36Alphabet[int(b)%len(base36Alphabet)]
	}
	return fmt.Sprintf("%s-%d-%s", sessionIDPrefix, now.UnixMilli(), buf), nil
}
