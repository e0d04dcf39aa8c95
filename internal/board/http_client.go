package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mailroom/backend/internal/capacity"
	"mailroom/backend/internal/domain"
)

// ErrNotFound 服务端找不到请求中的物品、邮箱或账户
var ErrNotFound = errors.New("not found")

// APIError 服务端返回的非成功响应
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("board api: status %d: %s", e.Status, e.Message)
}

// HTTPClient 通过 JSON 接口访问看板服务端
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient 创建看板 HTTP 客户端，httpClient 为 nil 时使用 10 秒超时的默认客户端
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

var _ Remote = (*HTTPClient)(nil)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Snapshot 获取账户看板快照
func (c *HTTPClient) Snapshot(ctx context.Context, accountID string) (*domain.BoardSnapshot, error) {
	endpoint := c.baseURL + "/v1/accounts/" + url.PathEscape(accountID) + "/board"
	var snap domain.BoardSnapshot
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// RelocateItems 提交一批移动
func (c *HTTPClient) RelocateItems(ctx context.Context, moves []domain.ItemMove) error {
	payload, err := json.Marshal(struct {
		Moves []domain.ItemMove `json:"moves"`
	}{Moves: moves})
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/v1/board/relocations", payload, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", capacity.ErrCapacityExceeded, env.Msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, env.Msg)
	case resp.StatusCode >= 300:
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
