package trackerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/khing2004/ip-geo-web/internal/domain/geo"
	"github.com/khing2004/ip-geo-web/internal/domain/history"

	"github.com/google/uuid"
)

// Client 封裝後端 auth/history API，所有已驗證端點使用 Bearer token。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 建立後端 API client；timeout 為零時使用 10 秒。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Login 以帳密換取 bearer token。
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload := map[string]string{"email": email, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/login", "", payload, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: login response missing token", geo.ErrServer)
	}
	return out.Token, nil
}

// ListHistory 取得帳號的完整查詢紀錄，順序由伺服器決定。
func (c *Client) ListHistory(ctx context.Context, token string) (history.Log, error) {
	var out history.Log
	if err := c.call(ctx, http.MethodGet, "/history", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendHistory 新增一筆查詢紀錄，id 由伺服器指派。
func (c *Client) AppendHistory(ctx context.Context, token string, entry history.NewEntry) (history.Entry, error) {
	var out history.Entry
	if err := c.call(ctx, http.MethodPost, "/history", token, entry, &out); err != nil {
		return history.Entry{}, err
	}
	return out, nil
}

// DeleteHistory 批次刪除指定 id；不可刪的 id 不會使整批失敗。
func (c *Client) DeleteHistory(ctx context.Context, token string, ids []string) error {
	payload := map[string][]string{"ids": ids}
	return c.call(ctx, http.MethodDelete, "/history", token, payload, nil)
}

func (c *Client) call(ctx context.Context, method, path, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: encode payload: %v", geo.ErrServer, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", geo.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", geo.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", geo.ErrNetwork, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: status 401", geo.ErrUnauthenticated)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through
	default:
		return fmt.Errorf("%w: status %d body=%s", geo.ErrServer, resp.StatusCode, string(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", geo.ErrServer, err)
	}
	return nil
}
