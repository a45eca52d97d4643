package provider

import (
	"context"

	"quizlab/internal/chat"
)

// 生成参数默认值 / Generation defaults
const (
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 8192
	DefaultTimeoutMS   = 60000
	DefaultMaxRetries  = 2
)

// GenerationConfig 单次请求的生成参数，零值字段使用默认值
// GenerationConfig holds per-request sampling options; zero fields take the defaults.
type GenerationConfig struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

func (g GenerationConfig) withDefaults() GenerationConfig {
	if g.Temperature == 0 {
		g.Temperature = DefaultTemperature
	}
	if g.TopP == 0 {
		g.TopP = DefaultTopP
	}
	if g.MaxTokens <= 0 {
		g.MaxTokens = DefaultMaxTokens
	}
	return g
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses
type StreamCallbacks struct {
	OnTextChunk      func(chunk string)
	OnReasoningChunk func(chunk string)
	OnUsage          func(usage Usage)
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	TotalTokens      int
}

// ChatResponse 完整响应
// ChatResponse is the complete response
type ChatResponse struct {
	Content      string
	Reasoning    string
	FinishReason string
	Usage        Usage
}

// Chatter 发送对话并返回回复，诊断会话只依赖这个接口
// Chatter sends a conversation and returns the reply. The diagnosis chat depends only on it.
type Chatter interface {
	Chat(ctx context.Context, messages []chat.Message, cb *StreamCallbacks) (ChatResponse, error)
}
