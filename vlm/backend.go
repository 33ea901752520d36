// =============================================================================
// 🤖 MaterialFlow VLM 后端
// =============================================================================
// Qwen 与 GPT4V 都走 OpenAI 兼容的 /chat/completions 接口，
// 区别只在默认地址、默认模型以及图文两个 content part 的顺序
// =============================================================================
package vlm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/config"
	"github.com/BaSui01/materialflow/internal/tlsutil"
)

// Backend 视觉语言模型后端
type Backend interface {
	// Name 后端标识（Qwen / GPT4V）
	Name() string
	// Model 使用的模型名
	Model() string
	// Query 以一张图片和提示词发起一次查询，返回模型的文本回答
	Query(ctx context.Context, imagePath, prompt string) (string, error)
}

const (
	TypeQwen  = "Qwen"
	TypeGPT4V = "GPT4V"

	DefaultQwenBaseURL  = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultQwenModel    = "qwen-vl-max-latest"
	DefaultOpenAIURL    = "https://api.openai.com/v1"
	DefaultGPT4VModel   = "gpt-4o-mini"
	chatCompletionsPath = "/chat/completions"
)

// ChatConfig OpenAI 兼容视觉对话后端配置
type ChatConfig struct {
	// ProviderName 后端标识
	ProviderName string
	APIKey       string
	BaseURL      string
	Model        string
	// Timeout HTTP 客户端超时，0 表示不限制
	Timeout time.Duration
	// ImageFirst 图片 part 是否排在文本 part 之前
	ImageFirst bool
	// CAFile 自定义 CA（私有网关）
	CAFile string
}

// ChatBackend OpenAI 兼容视觉对话后端
type ChatBackend struct {
	cfg    ChatConfig
	client *http.Client
	logger *zap.Logger
}

// NewChatBackend 创建视觉对话后端
func NewChatBackend(cfg ChatConfig, logger *zap.Logger) (*ChatBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s: %w", cfg.ProviderName, ErrMissingAPIKey)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := max(cfg.Timeout, 0)

	client := tlsutil.SecureHTTPClient(timeout)
	if cfg.CAFile != "" {
		var err error
		if client, err = tlsutil.ClientWithCA(timeout, cfg.CAFile); err != nil {
			return nil, err
		}
	}

	return &ChatBackend{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "vlm"), zap.String("provider", cfg.ProviderName)),
	}, nil
}

// NewQwen DashScope compatible-mode 后端，图片在前
func NewQwen(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) (*ChatBackend, error) {
	if baseURL == "" {
		baseURL = DefaultQwenBaseURL
	}
	if model == "" {
		model = DefaultQwenModel
	}
	return NewChatBackend(ChatConfig{
		ProviderName: TypeQwen,
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Model:        model,
		Timeout:      timeout,
		ImageFirst:   true,
	}, logger)
}

// NewGPT4V OpenAI 后端，文本在前
func NewGPT4V(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) (*ChatBackend, error) {
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if model == "" {
		model = DefaultGPT4VModel
	}
	return NewChatBackend(ChatConfig{
		ProviderName: TypeGPT4V,
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Model:        model,
		Timeout:      timeout,
	}, logger)
}

// New 按 vlm_type 创建后端
func New(cfg config.VLMConfig, logger *zap.Logger) (*ChatBackend, error) {
	switch cfg.Type {
	case TypeQwen:
		return NewQwen(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger)
	case TypeGPT4V:
		return NewGPT4V(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
}

// Name 返回后端标识
func (b *ChatBackend) Name() string { return b.cfg.ProviderName }

// Model 返回模型名
func (b *ChatBackend) Model() string { return b.cfg.Model }

// =============================================================================
// 📨 请求/响应
// =============================================================================

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Query 实现 Backend
func (b *ChatBackend) Query(ctx context.Context, imagePath, prompt string) (string, error) {
	dataURL, err := encodeImage(imagePath)
	if err != nil {
		return "", err
	}

	img := contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL}}
	txt := contentPart{Type: "text", Text: prompt}
	parts := []contentPart{txt, img}
	if b.cfg.ImageFirst {
		parts = []contentPart{img, txt}
	}

	payload, err := json.Marshal(chatRequest{
		Model:    b.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: parts}},
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return "", b.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), b.Name())
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Code: ErrUpstreamError, Message: "decode response: " + err.Error(), Provider: b.Name(), Cause: err}
	}
	if len(out.Choices) == 0 {
		return "", &Error{Code: ErrEmptyResponse, Message: "response has no choices", Provider: b.Name()}
	}

	content := messageText(out.Choices[0].Message.Content)
	b.logger.Debug("vlm query done",
		zap.String("image", imagePath),
		zap.String("model", b.cfg.Model),
		zap.Duration("elapsed", time.Since(start)))
	return content, nil
}

func (b *ChatBackend) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Code: ErrUpstreamTimeout, Message: err.Error(), Retryable: true, Provider: b.Name(), Cause: err}
	}
	return &Error{Code: ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: b.Name(), Cause: err}
}

// messageText content 可能是字符串，也可能是 part 数组
func messageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			if p.Type == "text" {
				sb.WriteString(p.Text)
			}
		}
		return sb.String()
	}
	return ""
}

// encodeImage 读取图片并编码为 data URL，MIME 类型按扩展名判断
func encodeImage(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = "image/png"
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
