// Package proxy forwards chat completion requests upstream with a server-held API key.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quizlab/internal/logging"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultUpstream 默认上游地址 / DefaultUpstream is the default upstream base URL.
const DefaultUpstream = "https://api.deepseek.com/v1"

const (
	msgMissingKey  = "API key is not configured on the server."
	headerReqID    = "X-Request-ID"
	copyBufferSize = 32 * 1024
)

// UpstreamError 上游传输失败 / UpstreamError reports a failed upstream round trip.
type UpstreamError struct {
	URL string
	Err error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Handler 代理 /api/* 请求 / Handler proxies /api/* requests to the upstream.
type Handler struct {
	upstream string
	apiKey   string
	client   *http.Client
	logger   *log.Logger
	metrics  *Metrics
}

// HandlerOption 配置 Handler / HandlerOption configures a Handler.
type HandlerOption func(*Handler)

func WithHTTPClient(c *http.Client) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.client = c
		}
	}
}

func WithLogger(l *log.Logger) HandlerOption {
	return func(h *Handler) { h.logger = logging.OrDefault(l) }
}

func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewHandler creates a proxy handler. An empty upstream means DefaultUpstream; an empty
// apiKey is allowed and makes every forwarded request fail with 500.
func NewHandler(upstream, apiKey string, opts ...HandlerOption) *Handler {
	upstream = strings.TrimRight(strings.TrimSpace(upstream), "/")
	if upstream == "" {
		upstream = DefaultUpstream
	}
	h := &Handler{
		upstream: upstream,
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{},
		logger:   log.Default(),
		metrics:  NewMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Metrics returns the handler's counters.
func (h *Handler) Metrics() *Metrics { return h.metrics }

// TargetURL 将 /api/<rest> 映射为上游地址
// TargetURL maps /api/<rest> to the upstream URL. /api/proxy is an alias for chat completions.
func (h *Handler) TargetURL(path string) string {
	rest := strings.TrimPrefix(path, "/api")
	switch rest {
	case "/proxy", "/proxy/", "/proxy/chat/completions":
		rest = "/chat/completions"
	}
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return h.upstream + rest
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	logger := h.logger.With("request_id", reqID)
	h.metrics.Requests.Add(1)

	w.Header().Set(headerReqID, reqID)
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		h.metrics.Rejected.Add(1)
		logger.Warn("method not allowed", "method", r.Method, "path", r.URL.Path)
		writeText(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s Not Allowed", r.Method))
		return
	}
	if h.apiKey == "" {
		h.metrics.Rejected.Add(1)
		logger.Error("upstream api key missing")
		writeText(w, http.StatusInternalServerError, msgMissingKey)
		return
	}

	target := h.TargetURL(r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	start := time.Now()
	status, err := h.forward(w, r, target)
	elapsed := time.Since(start).Milliseconds()
	h.metrics.RecordUpstream(err == nil, elapsed)

	var upErr *UpstreamError
	switch {
	case errors.As(err, &upErr):
		logger.Error("proxy upstream failed", "url", upErr.URL, "err", upErr.Err, "ms", elapsed)
		writeText(w, http.StatusInternalServerError, upErr.Error())
	case err != nil:
		// 响应头已发送，只能记录 / Headers already sent; the stream is cut short.
		logger.Warn("proxy stream interrupted", "url", target, "err", err, "ms", elapsed)
	default:
		logger.Info("proxied", "path", r.URL.Path, "status", status, "ms", elapsed)
	}
}

// forward 返回 *UpstreamError 表示尚未写出任何响应
// forward returns an *UpstreamError only when nothing has been written to w yet.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, target string) (int, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, r.Body)
	if err != nil {
		return 0, &UpstreamError{URL: target, Err: err}
	}
	req.ContentLength = r.ContentLength
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, &UpstreamError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	for _, k := range []string{"Content-Type", "Cache-Control"} {
		if v := resp.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	return resp.StatusCode, streamCopy(w, resp.Body)
}

// streamCopy 边读边刷新，保证 SSE 逐块到达客户端
// streamCopy flushes after every chunk so SSE events reach the client as they arrive.
func streamCopy(w http.ResponseWriter, body io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}
