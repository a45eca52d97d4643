// Package tokens estimates token usage when the upstream does not report it.
package tokens

import (
	"strings"
	"sync"

	"quizlab/internal/chat"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Estimator 估算一组消息的 token 数 / Estimator estimates tokens for a message list.
type Estimator interface {
	Count(messages []chat.Message) int
	CountText(text string) int
}

// Tokenizer 精确 token 计数器，首次使用时加载编码，失败则回退到启发式
// Tokenizer counts tokens with tiktoken, loading the encoding on first use and
// falling back to a heuristic when it cannot be loaded.
type Tokenizer struct {
	encodingName string

	once     sync.Once
	encoder  *tiktoken.Tiktoken
	fallback bool
}

// NewTokenizer creates a tokenizer for an encoding such as cl100k_base.
func NewTokenizer(encodingName string) *Tokenizer {
	return &Tokenizer{encodingName: encodingName}
}

// NewHeuristic 创建只用启发式的计数器，不访问网络
// NewHeuristic creates a tokenizer that never loads BPE data.
func NewHeuristic() *Tokenizer {
	t := &Tokenizer{encodingName: "heuristic", fallback: true}
	t.once.Do(func() {})
	return t
}

// NewTokenizerForModel 根据模型名自动选择编码
// NewTokenizerForModel auto-selects encoding based on model name
func NewTokenizerForModel(model string) *Tokenizer {
	return NewTokenizer(modelToEncoding(model))
}

func (t *Tokenizer) load() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encodingName)
		if err != nil {
			// 离线环境可能没有 BPE 缓存，回退到启发式
			// Offline environments may lack BPE cache, fallback to heuristic
			t.fallback = true
			return
		}
		t.encoder = enc
	})
}

// Count 计算消息列表的总 token 数
// Count returns total token count for a message list
func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.countMessage(msg)
	}
	return total
}

// CountText 计算单个文本的 token 数
// CountText counts tokens for a single text string
func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	t.load()
	if t.fallback {
		return heuristicTokenCount(text)
	}
	return len(t.encoder.Encode(text, nil, nil))
}

// IsPrecise returns whether tiktoken counting is in use.
func (t *Tokenizer) IsPrecise() bool {
	t.load()
	return !t.fallback
}

func (t *Tokenizer) EncodingName() string {
	return t.encodingName
}

func (t *Tokenizer) countMessage(msg chat.Message) int {
	// 每条消息约 4 token 的结构开销 / ~4 tokens of per-message overhead
	tokens := 4
	tokens += t.CountText(msg.Content)
	tokens += t.CountText(msg.Role)
	if msg.Name != "" {
		tokens += t.CountText(msg.Name) + 1
	}
	if msg.Reasoning != "" {
		tokens += t.CountText(msg.Reasoning)
	}
	return tokens
}

// EstimateExchange 估算一次调用的总 token：完整提示加回复
// EstimateExchange estimates the total tokens of one call: the full prompt plus the reply.
func EstimateExchange(e Estimator, prompt []chat.Message, reply string) int {
	return e.Count(prompt) + e.CountText(reply)
}

// heuristicTokenCount CJK 约 1.5 token/字，其余约 4 字符/token
// heuristicTokenCount assumes ~1.5 tokens per CJK character and ~4 chars per token otherwise.
func heuristicTokenCount(text string) int {
	if text == "" {
		return 0
	}
	cjkCount := 0
	asciiCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			asciiCount++
		}
	}
	estimate := int(float64(cjkCount)*1.5 + float64(asciiCount)*0.25)
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols
		(r >= 0xFF00 && r <= 0xFFEF) || // Fullwidth Forms
		(r >= 0xAC00 && r <= 0xD7AF) // Korean Hangul
}

// modelToEncoding 根据模型名推断编码
// modelToEncoding maps model name to encoding name
func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "o200k_base"
	default:
		// deepseek / qwen 等没有公开 BPE，用 cl100k_base 近似
		// deepseek, qwen and friends have no public BPE; cl100k_base approximates them.
		return "cl100k_base"
	}
}
