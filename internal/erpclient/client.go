// Package erpclient 外部ERP库存系统客户端
// 提供token管理和库存上账提交，上账单号作为幂等键传给外部系统
package erpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client ERP客户端
type Client struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	tokenCache  string       // 缓存的访问令牌
	tokenExpire time.Time    // 令牌过期时间
	mu          sync.RWMutex // 保护令牌缓存的读写锁
	httpClient  *http.Client
}

// New 创建ERP客户端实例
func New(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// getAccessToken 获取访问令牌
// 双重检查锁定缓存，提前60秒刷新避免过期
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.tokenCache != "" && time.Now().Before(c.tokenExpire) {
		token := c.tokenCache
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// 双重检查：其他goroutine可能已经刷新了令牌
	if c.tokenCache != "" && time.Now().Before(c.tokenExpire) {
		return c.tokenCache, nil
	}

	reqBody := map[string]string{
		"api_key":    c.apiKey,
		"api_secret": c.apiSecret,
	}
	bodyBytes, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/token", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request erp token: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code        int    `json:"code"`
		Message     string `json:"message"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("erp token rejected: %s", result.Message)
	}

	c.tokenCache = result.AccessToken
	c.tokenExpire = time.Now().Add(time.Duration(result.ExpiresIn-60) * time.Second)
	return c.tokenCache, nil
}

// StockMovementRequest 库存上账请求
type StockMovementRequest struct {
	DocNumber   string  `json:"doc_number"` // 幂等键，外部系统据此去重
	ProductCode string  `json:"product_code"`
	Amount      float64 `json:"amount"`
	SourceType  string  `json:"source_type"`
	SourceID    string  `json:"source_id"`
}

// PostStockMovement 提交库存上账，返回外部系统的入库单号
// 外部系统拒绝（业务校验不通过）和传输失败都以error返回
func (c *Client) PostStockMovement(ctx context.Context, req StockMovementRequest) (string, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return "", err
	}

	bodyBytes, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/stock-movements", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build stock movement request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post stock movement: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var result struct {
		Code           int    `json:"code"`
		Message        string `json:"message"`
		DocumentNumber string `json:"document_number"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode stock movement response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 || result.Code != 0 {
		return "", fmt.Errorf("erp rejected stock movement %s: %s", req.DocNumber, result.Message)
	}
	return result.DocumentNumber, nil
}
