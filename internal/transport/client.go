// Package transport предоставляет общий HTTP-примитив «отправить и
// разобрать» для всех платёжных адаптеров.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client инкапсулирует исходящее HTTP-взаимодействие с провайдерами.
// Тела запросов и ответов логируются дословно для операционного аудита.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient создаёт HTTP-клиент для обращения к платёжным шлюзам.
func NewClient(logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// PostForm отправляет form-encoded POST и разбирает JSON-ответ.
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values) (map[string]any, error) {
	body := values.Encode()
	return c.do(ctx, http.MethodPost, rawURL, strings.NewReader(body), body,
		"application/x-www-form-urlencoded")
}

// PostJSON отправляет JSON POST и разбирает JSON-ответ.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, bytes.NewReader(raw), string(raw),
		"application/json")
}

// Get выполняет GET-запрос и разбирает JSON-ответ. Используется для
// сверки статуса платежа сервер-сервер.
func (c *Client) Get(ctx context.Context, rawURL string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "", "")
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, outbound, contentType string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed",
			zap.String("url", rawURL),
			zap.String("request", outbound),
			zap.Error(err),
		)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Info("provider exchange",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.String("request", outbound),
		zap.String("response", string(raw)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	// UseNumber сохраняет числовые коды как json.Number: провайдеры
	// присылают один и тот же код то числом, то строкой.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var parsed map[string]any
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return parsed, nil
}
