package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"go.uber.org/zap"

	"github.com/BaSui01/materialflow/config"
	"github.com/BaSui01/materialflow/internal/retry"
	"github.com/BaSui01/materialflow/internal/tlsutil"
)

// ServiceError 分割服务返回的错误
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("segmentation service: status %d: %s", e.StatusCode, e.Message)
}

// Retryable 限流与服务端错误可重试
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type loadRequest struct {
	Checkpoint          string `json:"checkpoint"`
	ModelCfg            string `json:"model_cfg"`
	Device              string `json:"device"`
	ApplyPostprocessing bool   `json:"apply_postprocessing"`
}

type loadResponse struct {
	ID string `json:"id"`
}

type maskPayload struct {
	Segmentation   RLE     `json:"segmentation"`
	Area           int     `json:"area"`
	BBox           [4]int  `json:"bbox"`
	PredictedIoU   float64 `json:"predicted_iou"`
	StabilityScore float64 `json:"stability_score"`
}

type generateResponse struct {
	Masks []maskPayload `json:"masks"`
}

// ServiceModel 远程分割推理服务上的一个模型实例
type ServiceModel struct {
	baseURL string
	client  *http.Client
	retryer retry.Retryer
	logger  *zap.Logger

	mu sync.Mutex
	id string
}

// LoadServiceModel 请求服务加载模型，返回模型句柄
func LoadServiceModel(ctx context.Context, cfg config.SegmentationConfig, logger *zap.Logger) (*ServiceModel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := tlsutil.SecureHTTPClient(cfg.Timeout)
	if cfg.CAFile != "" {
		var err error
		client, err = tlsutil.ClientWithCA(cfg.Timeout, cfg.CAFile)
		if err != nil {
			return nil, err
		}
	}

	m := &ServiceModel{
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		client:  client,
		logger:  logger.With(zap.String("component", "segment_service")),
	}
	m.retryer = retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       true,
		ShouldRetry:  isRetryable,
	}, logger)

	body, err := json.Marshal(loadRequest{
		Checkpoint: cfg.SAM2Checkpoint,
		ModelCfg:   cfg.ModelCfg,
		Device:     cfg.Device,
	})
	if err != nil {
		return nil, err
	}

	var resp loadResponse
	err = m.retryer.Do(ctx, func() error {
		return m.doJSON(ctx, http.MethodPost, "/v1/models", "application/json", bytes.NewReader(body), &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("load segmentation model: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("load segmentation model: empty handle id")
	}
	m.id = resp.ID

	m.logger.Info("segmentation model loaded",
		zap.String("id", m.id),
		zap.String("model_cfg", cfg.ModelCfg),
		zap.String("device", cfg.Device))
	return m, nil
}

// Name 返回模型标识
func (m *ServiceModel) Name() string { return "service" }

// ID 服务端句柄
func (m *ServiceModel) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Generate 上传图像与 alpha，返回解码后的掩码
func (m *ServiceModel) Generate(ctx context.Context, img image.Image, alpha *image.Gray, params Params) ([]Mask, error) {
	id := m.ID()
	if id == "" {
		return nil, ErrReleased
	}

	body, contentType, err := encodeGenerateRequest(img, alpha, params)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	err = m.retryer.Do(ctx, func() error {
		return m.doJSON(ctx, http.MethodPost, "/v1/models/"+id+"/generate", contentType, bytes.NewReader(body), &resp)
	})
	if err != nil {
		return nil, err
	}

	masks := make([]Mask, 0, len(resp.Masks))
	for i, p := range resp.Masks {
		seg, err := p.Segmentation.Decode()
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}
		masks = append(masks, NewMask(seg, p.PredictedIoU, p.StabilityScore))
	}
	return masks, nil
}

// Release 释放服务端模型，重复调用是空操作
func (m *ServiceModel) Release(ctx context.Context) error {
	m.mu.Lock()
	id := m.id
	m.id = ""
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	if err := m.doJSON(ctx, http.MethodDelete, "/v1/models/"+id, "", nil, nil); err != nil {
		return fmt.Errorf("release segmentation model %s: %w", id, err)
	}
	m.logger.Info("segmentation model released", zap.String("id", id))
	return nil
}

func (m *ServiceModel) doJSON(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ServiceError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func encodeGenerateRequest(img image.Image, alpha *image.Gray, params Params) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	writePNG := func(field string, im image.Image) error {
		part, err := w.CreateFormFile(field, field+".png")
		if err != nil {
			return err
		}
		return imgio.PNGEncoder()(part, im)
	}
	if err := writePNG("image", img); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	if err := writePNG("alpha", alpha); err != nil {
		return nil, "", fmt.Errorf("encode alpha: %w", err)
	}
	p, err := json.Marshal(params)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("params", string(p)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func isRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	// 网络错误
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
