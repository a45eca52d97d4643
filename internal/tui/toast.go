package tui

import (
	"fmt"
	"io"
	"sync"
)

// Toast 在终端输出醒目的一次性提示，实现 usage.Notifier
// Toast prints a highlighted one-off notice to the terminal; it implements usage.Notifier.
type Toast struct {
	mu    sync.Mutex
	w     io.Writer
	theme Theme
}

func NewToast(w io.Writer, theme Theme) *Toast {
	return &Toast{w: w, theme: theme}
}

func (t *Toast) Warn(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.w, t.theme.ToastStyle.Render("⚠ "+message))
}
