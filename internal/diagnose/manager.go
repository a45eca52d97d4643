// Package diagnose runs AI tutoring conversations and keeps them in the session store.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"quizlab/internal/chat"
	"quizlab/internal/logging"
	"quizlab/internal/provider"
	"quizlab/internal/storage"
	"quizlab/internal/tokens"
	"quizlab/internal/usage"

	"github.com/charmbracelet/log"
)

var (
	// ErrBusy 上一次请求仍在进行 / ErrBusy means a reply is still streaming.
	ErrBusy = errors.New("AI正在思考中，请稍候...")
	// ErrEmptyMessage 输入为空 / ErrEmptyMessage rejects blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSessionNotFound 恢复的会话不存在 / ErrSessionNotFound means Resume found no session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoSession 尚未开始会话 / ErrNoSession means Send was called before Start or Resume.
	ErrNoSession = errors.New("no active session")
)

// Reply 一次对话回合的结果 / Reply is the outcome of one exchange.
type Reply struct {
	Content string
	Tokens  int
	// Estimated 为 true 表示上游未报告用量，Tokens 为本地估算
	// Estimated is true when upstream reported no usage and Tokens is a local estimate.
	Estimated bool
	Usage     usage.Snapshot
}

// Deps 管理器依赖 / Deps are the collaborators of a Manager.
type Deps struct {
	Store     storage.SessionStore
	Counter   *usage.Counter
	Chatter   provider.Chatter
	Estimator tokens.Estimator
	Logger    *log.Logger
}

// Manager 管理当前会话：模式、上下文与历史
// Manager owns the active conversation: its mode, attached context and history.
type Manager struct {
	deps   Deps
	logger *log.Logger

	mu        sync.Mutex
	waiting   bool
	sessionID string
	mode      Mode
	history   []chat.Message
	report    ReportProvider
	question  *QuestionContext
	essay     *EssayContext
}

// NewManager creates a manager; Store, Counter and Chatter are required.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Counter == nil || deps.Chatter == nil {
		return nil, fmt.Errorf("diagnose: store, counter and chatter are required")
	}
	if deps.Estimator == nil {
		deps.Estimator = tokens.NewHeuristic()
	}
	return &Manager{
		deps:   deps,
		logger: logging.OrDefault(deps.Logger),
		mode:   ModeGeneral,
	}, nil
}

// Start 以系统提示创建新会话 / Start creates a session seeded with the mode's system prompt.
func (m *Manager) Start(ctx context.Context, mode Mode) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting {
		return "", ErrBusy
	}
	initial := []chat.Message{{Role: chat.RoleSystem, Content: SystemPrompt(mode)}}
	id, err := m.deps.Store.CreateSession(ctx, initial)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	m.sessionID = id
	m.mode = mode
	m.history = initial
	m.question = nil
	m.essay = nil
	m.logger.Info("session started", "session", id, "mode", mode)
	return id, nil
}

// Resume 加载已有会话；模式从存储的系统提示恢复
// Resume loads an existing session. The mode is recovered from its stored system prompt.
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting {
		return ErrBusy
	}
	msgs, ok, err := m.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("resume session: %w", err)
	}
	if !ok {
		return fmt.Errorf("resume %s: %w", sessionID, ErrSessionNotFound)
	}
	mode := ModeGeneral
	if len(msgs) > 0 && msgs[0].Role == chat.RoleSystem {
		mode = modeFromPrompt(msgs[0].Content)
	}
	m.sessionID = sessionID
	m.mode = mode
	m.history = msgs
	m.logger.Info("session resumed", "session", sessionID, "mode", mode, "messages", len(msgs))
	return nil
}

// SetMode 在当前会话内切换模式，系统提示随之替换
// SetMode switches the mode within the current conversation and swaps its system prompt.
func (m *Manager) SetMode(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waiting {
		return ErrBusy
	}
	m.mode = mode
	if mode != ModeHint && mode != ModeExplain {
		m.question = nil
	}
	if mode != ModeEssayFeedback {
		m.essay = nil
	}
	sys := chat.Message{Role: chat.RoleSystem, Content: SystemPrompt(mode)}
	if len(m.history) > 0 && m.history[0].Role == chat.RoleSystem {
		m.history[0] = sys
	} else {
		m.history = append([]chat.Message{sys}, m.history...)
	}
	return nil
}

func (m *Manager) SetReportProvider(p ReportProvider) {
	m.mu.Lock()
	m.report = p
	m.mu.Unlock()
}

func (m *Manager) SetQuestionContext(q *QuestionContext) {
	m.mu.Lock()
	m.question = q
	m.mu.Unlock()
}

func (m *Manager) SetEssayContext(e *EssayContext) {
	m.mu.Lock()
	m.essay = e
	m.mu.Unlock()
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// History returns a copy of the stored conversation.
func (m *Manager) History() []chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return chat.Clone(m.history)
}

// Send 发送用户消息并流式接收回复；成功后持久化会话并记录用量
// Send appends the user message, streams the reply through onChunk, persists the
// conversation and records usage. Only one Send runs at a time.
func (m *Manager) Send(ctx context.Context, text string, onChunk func(string)) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	m.mu.Lock()
	if m.sessionID == "" {
		m.mu.Unlock()
		return Reply{}, ErrNoSession
	}
	if m.waiting {
		m.mu.Unlock()
		return Reply{}, ErrBusy
	}
	m.waiting = true
	m.history = append(m.history, chat.Message{Role: chat.RoleUser, Content: text})
	sessionID := m.sessionID
	mode, reportFn := m.mode, m.report
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.waiting = false
		m.mu.Unlock()
	}()

	// 报告回调可能回读 Manager，必须在锁外调用
	// The report callback may call back into the Manager, so it runs unlocked.
	var report string
	if mode == ModeDiagnose && reportFn != nil {
		report = reportFn()
	}
	m.mu.Lock()
	prompt := m.promptLocked(report)
	m.mu.Unlock()

	var cb *provider.StreamCallbacks
	if onChunk != nil {
		cb = &provider.StreamCallbacks{OnTextChunk: onChunk}
	}
	resp, err := m.deps.Chatter.Chat(ctx, prompt, cb)
	if err != nil {
		m.logger.Error("ai request failed", "session", sessionID, "err", err)
		// 用户消息仍然保留，便于重试时看到上下文
		// The user message stays in history so the transcript shows what was asked.
		if perr := m.persist(ctx, sessionID); perr != nil {
			m.logger.Warn("persist after failure", "session", sessionID, "err", perr)
		}
		return Reply{}, fmt.Errorf("调用AI服务失败：%w", err)
	}

	reply := Reply{Content: resp.Content, Tokens: resp.Usage.TotalTokens}
	if reply.Tokens <= 0 {
		reply.Tokens = tokens.EstimateExchange(m.deps.Estimator, prompt, resp.Content)
		reply.Estimated = true
	}

	if strings.TrimSpace(resp.Content) != "" {
		m.mu.Lock()
		m.history = append(m.history, chat.Message{
			Role:      chat.RoleAssistant,
			Content:   resp.Content,
			Reasoning: resp.Reasoning,
		})
		m.mu.Unlock()
	} else {
		m.logger.Warn("ai returned no content", "session", sessionID)
	}

	// 调用已发生，先计数再落盘 / The call happened, so it is counted even if saving fails.
	reply.Usage = m.deps.Counter.IncrementCall(reply.Tokens)
	if err := m.persist(ctx, sessionID); err != nil {
		return reply, err
	}
	m.logger.Debug("exchange complete", "session", sessionID, "tokens", reply.Tokens, "estimated", reply.Estimated)
	return reply, nil
}

func (m *Manager) persist(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	history := chat.Clone(m.history)
	m.mu.Unlock()
	if err := m.deps.Store.UpdateSession(ctx, sessionID, history); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// promptLocked 组装发往模型的消息：系统提示加模式上下文，再接非系统历史
// promptLocked builds the model input: the system prompt with mode context, then the
// non-system history. report is the already rendered learning report. Must be called
// with m.mu held.
func (m *Manager) promptLocked(report string) []chat.Message {
	system := SystemPrompt(m.mode)
	switch m.mode {
	case ModeDiagnose:
		if report != "" {
			system += reportBlock(report)
		}
	case ModeHint, ModeExplain:
		if m.question != nil {
			system += questionBlock(m.question)
		}
	case ModeEssayFeedback:
		if m.essay != nil {
			system += essayBlock(m.essay)
		}
	}

	out := make([]chat.Message, 0, len(m.history)+1)
	out = append(out, chat.Message{Role: chat.RoleSystem, Content: system})
	for _, msg := range m.history {
		if msg.Role == chat.RoleSystem {
			continue
		}
		out = append(out, chat.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}
