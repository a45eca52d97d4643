package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quizlab/internal/chat"
	"quizlab/internal/logging"

	"github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"
)

// Config 客户端配置 / Config configures a Client.
type Config struct {
	// BaseURL 通常指向本地代理，如 http://127.0.0.1:8787/api/proxy
	// BaseURL normally points at the proxy, e.g. http://127.0.0.1:8787/api/proxy
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutMS  int
	MaxRetries int
	Generation GenerationConfig
	Logger     *log.Logger
}

// Client 基于 go-openai SDK 的流式对话客户端
// Client streams chat completions through the go-openai SDK.
type Client struct {
	client *openai.Client
	cfg    Config
	logger *log.Logger
}

// NewClient creates a Client. The base URL is required.
func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base_url is empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = DefaultTimeoutMS
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.Generation = cfg.Generation.withDefaults()

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = cfg.BaseURL
	config.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}

	return &Client{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		logger: logging.OrDefault(cfg.Logger),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Chat 流式请求；失败且尚未输出任何内容时按指数退避重试
// Chat streams a completion. Failures are retried with exponential backoff, but only while
// nothing has been delivered to the callbacks yet.
func (c *Client) Chat(ctx context.Context, messages []chat.Message, cb *StreamCallbacks) (ChatResponse, error) {
	req := c.buildRequest(messages, true)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
			c.logger.Debug("retrying chat", "attempt", attempt, "err", lastErr)
		}

		resp, delivered, err := c.chatStream(ctx, req, cb)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if delivered || !retryable(err) {
			break
		}
	}
	return ChatResponse{}, fmt.Errorf("provider chat: %w", lastErr)
}

// Generate 非流式请求 / Generate performs a non-streaming completion.
func (c *Client) Generate(ctx context.Context, messages []chat.Message) (ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(messages, false))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("provider generate: %w", err)
	}
	out := ChatResponse{Usage: convertUsage(&resp.Usage)}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		out.Reasoning = resp.Choices[0].Message.ReasoningContent
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

func (c *Client) buildRequest(messages []chat.Message, stream bool) openai.ChatCompletionRequest {
	gen := c.cfg.Generation
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    convertMessages(messages),
		Stream:      stream,
		Temperature: float32(gen.Temperature),
		TopP:        float32(gen.TopP),
		MaxTokens:   gen.MaxTokens,
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return req
}

// chatStream 返回 delivered=true 表示已有内容交给回调，此时不可重试
// chatStream reports delivered=true once any chunk reached the callbacks; such a call must not be retried.
func (c *Client) chatStream(ctx context.Context, req openai.ChatCompletionRequest, cb *StreamCallbacks) (ChatResponse, bool, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return ChatResponse{}, false, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var (
		contentBuilder   strings.Builder
		reasoningBuilder strings.Builder
		finishReason     string
		usage            Usage
		delivered        bool
	)

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// 如果已经收到部分内容，返回已有的而不是报错
			// If we already have partial content, return what we have
			if contentBuilder.Len() > 0 {
				c.logger.Warn("stream ended early, keeping partial reply", "err", err)
				break
			}
			return ChatResponse{}, delivered, fmt.Errorf("recv stream: %w", err)
		}

		for _, choice := range resp.Choices {
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				contentBuilder.WriteString(choice.Delta.Content)
				delivered = true
				if cb != nil && cb.OnTextChunk != nil {
					cb.OnTextChunk(choice.Delta.Content)
				}
			}
			if choice.Delta.ReasoningContent != "" {
				reasoningBuilder.WriteString(choice.Delta.ReasoningContent)
				delivered = true
				if cb != nil && cb.OnReasoningChunk != nil {
					cb.OnReasoningChunk(choice.Delta.ReasoningContent)
				}
			}
		}

		// Usage 在 include_usage 开启时于最后一个 chunk 返回
		// Usage arrives in the final chunk when include_usage is set
		if resp.Usage != nil {
			usage = convertUsage(resp.Usage)
		}
	}

	if cb != nil && cb.OnUsage != nil {
		cb.OnUsage(usage)
	}
	return ChatResponse{
		Content:      contentBuilder.String(),
		Reasoning:    reasoningBuilder.String(),
		FinishReason: finishReason,
		Usage:        usage,
	}, delivered, nil
}

// retryable 上下文取消与 4xx（429 除外）不重试
// retryable rejects context cancellation and 4xx responses other than 429.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func convertUsage(u *openai.Usage) Usage {
	if u == nil {
		return Usage{}
	}
	out := Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.CompletionTokensDetails != nil {
		out.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return out
}

// --- Message Conversion ---

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}
