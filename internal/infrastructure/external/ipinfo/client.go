package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/khing2004/ip-geo-web/internal/domain/geo"
)

// Client 封裝 ipinfo.io 形式的 geolocation provider。
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient 建立 provider client；timeout 為零時使用 10 秒。
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// LookupSelf 查詢呼叫端自身 IP 的地理資訊。
func (c *Client) LookupSelf(ctx context.Context) (*geo.Result, error) {
	return c.lookup(ctx, "/geo")
}

// LookupByIP 查詢指定（已驗證過格式的）IP 的地理資訊。
func (c *Client) LookupByIP(ctx context.Context, ip string) (*geo.Result, error) {
	return c.lookup(ctx, "/"+url.PathEscape(ip))
}

func (c *Client) lookup(ctx context.Context, path string) (*geo.Result, error) {
	fullURL := fmt.Sprintf("%s%s?token=%s", c.baseURL, path, url.QueryEscape(c.token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", geo.ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", geo.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", geo.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// provider 以 4xx 表示未知或不合法的 IP
		return nil, fmt.Errorf("%w: status %d", geo.ErrNotFound, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d body=%s", geo.ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var result geo.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", geo.ErrProviderUnavailable, err)
	}
	return &result, nil
}
