package tui

import (
	"context"
	"fmt"
	"strings"

	"quizlab/internal/chat"
	"quizlab/internal/i18n"
	"quizlab/internal/storage"
	"quizlab/internal/usage"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SessionSource 浏览器读取的会话存储，*storage.SQLiteStore 满足该接口
// SessionSource is the session storage the browser reads; *storage.SQLiteStore satisfies it.
type SessionSource interface {
	ListSessionsMeta(ctx context.Context) ([]storage.SessionMeta, error)
	GetSession(ctx context.Context, sessionID string) ([]chat.Message, bool, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// UsageSource 用量快照与变更订阅，*usage.Counter 满足该接口
// UsageSource provides usage snapshots and change notifications; *usage.Counter satisfies it.
type UsageSource interface {
	Snapshot() usage.Snapshot
	Subscribe(fn func(usage.Snapshot)) (unsubscribe func())
}

// FocusID 当前获得键盘焦点的面板
// FocusID identifies the panel that has keyboard focus
type FocusID int

const (
	FocusList FocusID = iota
	FocusTranscript
)

// --- Tea Messages ---

// SessionsLoadedMsg 会话列表加载完成
// SessionsLoadedMsg carries a freshly loaded session list
type SessionsLoadedMsg struct {
	Metas []storage.SessionMeta
	Err   error
}

// TranscriptLoadedMsg 单个会话的对话记录
// TranscriptLoadedMsg carries one session's conversation
type TranscriptLoadedMsg struct {
	SessionID string
	Messages  []chat.Message
	Found     bool
	Err       error
}

// SessionDeletedMsg 会话删除完成
// SessionDeletedMsg reports a finished delete
type SessionDeletedMsg struct {
	SessionID string
	Err       error
}

// UsageMsg 用量更新
// UsageMsg carries an updated usage snapshot
type UsageMsg struct{ Snapshot usage.Snapshot }

type sessionItem struct{ meta storage.SessionMeta }

func (i sessionItem) Title() string {
	if strings.TrimSpace(i.meta.Title) == "" {
		return "(untitled)"
	}
	return i.meta.Title
}

func (i sessionItem) Description() string {
	return i.meta.ModifiedAt().Format("2006-01-02 15:04") + " · " + i.meta.SessionID
}

func (i sessionItem) FilterValue() string { return i.meta.Title + " " + i.meta.SessionID }

// Browser 会话浏览器：左侧会话列表，右侧对话记录，侧边栏显示用量
// Browser is the session browser: session list, transcript view and a usage sidebar.
type Browser struct {
	ctx      context.Context
	source   SessionSource
	usageSrc UsageSource

	// 布局 / Layout
	width  int
	height int
	focus  FocusID

	list       list.Model
	transcript viewport.Model

	// 状态 / State
	current     string
	currentMsgs []chat.Message
	snapshot    usage.Snapshot
	status      string
	lastError   string

	theme  Theme
	keys   KeyMap
	locale *i18n.I18n
}

// NewBrowser 创建会话浏览器；usageSrc 可为 nil
// NewBrowser creates a session browser; usageSrc may be nil.
func NewBrowser(ctx context.Context, source SessionSource, usageSrc UsageSource) Browser {
	locale := i18n.Global()

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = locale.T("panel.sessions")
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	b := Browser{
		ctx:        ctx,
		source:     source,
		usageSrc:   usageSrc,
		list:       l,
		transcript: viewport.New(0, 0),
		status:     locale.T("status.loading"),
		theme:      DarkTheme(),
		keys:       DefaultKeyMap(),
		locale:     locale,
	}
	if usageSrc != nil {
		b.snapshot = usageSrc.Snapshot()
	}
	return b
}

func (b Browser) Init() tea.Cmd {
	return b.loadSessions()
}

func (b Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		b.relayout()
		return b, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, b.keys.Quit):
			return b, tea.Quit
		case key.Matches(msg, b.keys.SwitchFocus):
			if b.focus == FocusList {
				b.focus = FocusTranscript
			} else {
				b.focus = FocusList
			}
			return b, nil
		case key.Matches(msg, b.keys.Refresh):
			b.status = b.locale.T("status.loading")
			return b, tea.Batch(b.loadSessions(), b.refreshUsage())
		}

		if b.focus == FocusList {
			switch {
			case key.Matches(msg, b.keys.Open):
				if id := b.selectedID(); id != "" {
					b.status = b.locale.T("status.loading")
					return b, b.loadTranscript(id)
				}
				return b, nil
			case key.Matches(msg, b.keys.Delete):
				if id := b.selectedID(); id != "" {
					return b, b.deleteSession(id)
				}
				return b, nil
			}
			var cmd tea.Cmd
			b.list, cmd = b.list.Update(msg)
			return b, cmd
		}

		var cmd tea.Cmd
		b.transcript, cmd = b.transcript.Update(msg)
		return b, cmd

	case SessionsLoadedMsg:
		if msg.Err != nil {
			b.lastError = msg.Err.Error()
			return b, nil
		}
		b.lastError = ""
		if b.status == b.locale.T("status.loading") {
			b.status = b.locale.T("status.ready")
		}
		items := make([]list.Item, 0, len(msg.Metas))
		present := false
		for _, m := range msg.Metas {
			items = append(items, sessionItem{meta: m})
			if m.SessionID == b.current {
				present = true
			}
		}
		if !present {
			b.clearTranscript()
		}
		return b, b.list.SetItems(items)

	case TranscriptLoadedMsg:
		b.status = b.locale.T("status.ready")
		if msg.Err != nil {
			b.lastError = msg.Err.Error()
			return b, nil
		}
		b.lastError = ""
		if !msg.Found {
			b.clearTranscript()
			b.transcript.SetContent(b.theme.MutedStyle.Render(b.locale.T("transcript.gone")))
			return b, nil
		}
		b.current = msg.SessionID
		b.currentMsgs = msg.Messages
		b.renderTranscript()
		b.transcript.GotoTop()
		return b, nil

	case SessionDeletedMsg:
		if msg.Err != nil {
			b.lastError = msg.Err.Error()
			return b, nil
		}
		b.lastError = ""
		b.status = b.locale.T("status.deleted", msg.SessionID)
		if msg.SessionID == b.current {
			b.clearTranscript()
		}
		return b, b.loadSessions()

	case UsageMsg:
		b.snapshot = msg.Snapshot
		return b, nil
	}

	var cmd tea.Cmd
	b.list, cmd = b.list.Update(msg)
	return b, cmd
}

func (b Browser) View() string {
	if b.width == 0 || b.height == 0 {
		return "Initializing..."
	}

	listWidth, transcriptWidth, sidebarWidth, panelHeight := b.layout()

	left := b.renderList(listWidth, panelHeight)
	right := b.renderTranscriptPanel(transcriptWidth, panelHeight)
	main := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	if sidebarWidth > 0 {
		sidebar := b.theme.SidebarStyle.
			Width(sidebarWidth).
			Height(panelHeight).
			Render(RenderUsage(b.snapshot, sidebarWidth-2, b.theme, b.locale))
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, b.renderStatusBar(b.width))
}

// --- 内部方法 / Internal methods ---

// layout 返回列表宽、记录宽、侧边栏宽和面板高度；窄终端隐藏侧边栏
// layout returns list, transcript and sidebar widths plus panel height; narrow terminals drop the sidebar.
func (b Browser) layout() (int, int, int, int) {
	sidebarWidth := b.width * 25 / 100
	if sidebarWidth < 24 {
		sidebarWidth = 24
	}
	if sidebarWidth > 36 {
		sidebarWidth = 36
	}
	if b.width < 80 {
		sidebarWidth = 0
	}

	mainWidth := b.width - sidebarWidth
	if sidebarWidth > 0 {
		mainWidth-- // border
	}
	listWidth := mainWidth * 40 / 100
	transcriptWidth := mainWidth - listWidth

	panelHeight := b.height - 2 // tab + status
	if panelHeight < 3 {
		panelHeight = 3
	}
	return listWidth, transcriptWidth, sidebarWidth, panelHeight
}

func (b *Browser) relayout() {
	listWidth, transcriptWidth, _, panelHeight := b.layout()
	b.list.SetSize(listWidth, panelHeight)
	b.transcript.Width = transcriptWidth
	b.transcript.Height = panelHeight
	b.renderTranscript()
}

func (b *Browser) renderTranscript() {
	if b.current == "" {
		b.transcript.SetContent(b.theme.MutedStyle.Render(b.locale.T("transcript.empty")))
		return
	}
	b.transcript.SetContent(RenderTranscript(b.currentMsgs, b.transcript.Width-2, b.theme, b.locale))
}

func (b *Browser) clearTranscript() {
	b.current = ""
	b.currentMsgs = nil
	b.renderTranscript()
}

func (b Browser) selectedID() string {
	item, ok := b.list.SelectedItem().(sessionItem)
	if !ok {
		return ""
	}
	return item.meta.SessionID
}

func (b Browser) loadSessions() tea.Cmd {
	ctx, src := b.ctx, b.source
	return func() tea.Msg {
		metas, err := src.ListSessionsMeta(ctx)
		return SessionsLoadedMsg{Metas: metas, Err: err}
	}
}

func (b Browser) loadTranscript(id string) tea.Cmd {
	ctx, src := b.ctx, b.source
	return func() tea.Msg {
		msgs, found, err := src.GetSession(ctx, id)
		return TranscriptLoadedMsg{SessionID: id, Messages: msgs, Found: found, Err: err}
	}
}

func (b Browser) deleteSession(id string) tea.Cmd {
	ctx, src := b.ctx, b.source
	return func() tea.Msg {
		return SessionDeletedMsg{SessionID: id, Err: src.DeleteSession(ctx, id)}
	}
}

func (b Browser) refreshUsage() tea.Cmd {
	if b.usageSrc == nil {
		return nil
	}
	src := b.usageSrc
	return func() tea.Msg {
		return UsageMsg{Snapshot: src.Snapshot()}
	}
}

// --- 渲染方法 / Render methods ---

func (b Browser) renderList(width, height int) string {
	style := lipgloss.NewStyle().Width(width).Height(height)
	if len(b.list.Items()) == 0 {
		title := b.tabStyle(FocusList).Render(b.locale.T("panel.sessions"))
		return style.Render(title + "\n\n" + b.theme.MutedStyle.Render("  "+b.locale.T("browser.empty")))
	}
	return style.Render(b.list.View())
}

func (b Browser) renderTranscriptPanel(width, height int) string {
	title := b.tabStyle(FocusTranscript).Render(b.locale.T("panel.transcript"))
	style := b.theme.PanelStyle.Width(width).Height(height)
	return style.Render(title + "\n" + b.transcript.View())
}

func (b Browser) tabStyle(id FocusID) lipgloss.Style {
	if b.focus == id {
		return b.theme.ActiveTabStyle
	}
	return b.theme.InactiveTabStyle
}

func (b Browser) renderStatusBar(width int) string {
	left := " " + b.status
	if b.lastError != "" {
		left = " " + b.theme.ErrorStyle.Render(b.lastError)
	}
	right := b.locale.T("keys.help") + "  "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	bar := left + strings.Repeat(" ", gap) + right
	return b.theme.StatusBarStyle.Width(width).Render(bar)
}

// RunBrowser 启动会话浏览器，用量变化实时推送到界面
// RunBrowser starts the session browser; usage changes are pushed to the view live.
func RunBrowser(ctx context.Context, source SessionSource, usageSrc UsageSource) error {
	browser := NewBrowser(ctx, source, usageSrc)
	p := tea.NewProgram(browser, tea.WithAltScreen(), tea.WithContext(ctx))
	if usageSrc != nil {
		unsubscribe := usageSrc.Subscribe(func(s usage.Snapshot) { p.Send(UsageMsg{Snapshot: s}) })
		defer unsubscribe()
	}
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("session browser: %w", err)
	}
	return nil
}
