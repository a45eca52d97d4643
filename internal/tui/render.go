package tui

import (
	"fmt"
	"strings"

	"quizlab/internal/chat"
	"quizlab/internal/i18n"
	"quizlab/internal/usage"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderTranscript 渲染对话记录，系统提示不展示
// RenderTranscript renders a conversation; system prompts are hidden.
func RenderTranscript(msgs []chat.Message, width int, theme Theme, locale *i18n.I18n) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleUser:
			b.WriteString(theme.UserStyle.Render("▌ " + locale.T("role.user")))
			b.WriteString("\n")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			b.WriteString(theme.AssistantStyle.Render("▌ " + locale.T("role.assistant")))
			b.WriteString("\n")
			b.WriteString(RenderMarkdown(m.Content, width))
			b.WriteString("\n\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderUsage 渲染用量面板：进度条与各项计数
// RenderUsage renders the usage panel: a progress bar plus the counters.
func RenderUsage(snap usage.Snapshot, width int, theme Theme, locale *i18n.I18n) string {
	if width < 10 {
		width = 10
	}
	lines := []string{theme.TitleStyle.Render(locale.T("sidebar.usage"))}

	if snap.TodayLimit > 0 {
		bar := progress.New(progress.WithSolidFill(string(barColor(snap, theme))), progress.WithWidth(width))
		lines = append(lines,
			bar.ViewAs(snap.TodayProgressPercent/100),
			locale.T("sidebar.today", snap.TodayUsed, snap.TodayLimit),
			locale.T("sidebar.remaining", snap.TodayRemaining),
		)
	} else {
		lines = append(lines, locale.T("sidebar.unlimited", snap.TodayUsed))
	}

	lines = append(lines,
		locale.T("sidebar.total_calls", snap.TotalCalls),
		locale.T("sidebar.tokens_today", snap.TodayTokens),
		locale.T("sidebar.tokens_total", snap.TotalTokens),
	)
	if snap.LimitReached() {
		lines = append(lines, theme.ErrorStyle.Render(locale.T("usage.limit_reached")))
	}
	return strings.Join(lines, "\n")
}

// FormatUsage 纯文本形式的用量，供非交互输出
// FormatUsage renders the counters as plain text for non-interactive output.
func FormatUsage(snap usage.Snapshot) string {
	var b strings.Builder
	if snap.TodayLimit > 0 {
		fmt.Fprintf(&b, "today:     %d / %d (%.1f%%)\n", snap.TodayUsed, snap.TodayLimit, snap.TodayProgressPercent)
		fmt.Fprintf(&b, "remaining: %d\n", snap.TodayRemaining)
	} else {
		fmt.Fprintf(&b, "today:     %d (no limit)\n", snap.TodayUsed)
	}
	fmt.Fprintf(&b, "total:     %d calls\n", snap.TotalCalls)
	fmt.Fprintf(&b, "tokens:    %d today, %d total", snap.TodayTokens, snap.TotalTokens)
	return b.String()
}

func barColor(snap usage.Snapshot, theme Theme) lipgloss.Color {
	switch {
	case snap.TodayProgressPercent >= 100:
		return theme.Danger
	case snap.TodayProgressPercent >= 80:
		return theme.Warning
	default:
		return theme.Success
	}
}
