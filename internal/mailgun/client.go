// Package mailgun 实现 Mailgun 兼容的路由 API 客户端。
//
// 服务商没有"邮箱"概念：地址只是随机生成的字符串，
// 可选地注册一条转发路由；删除地址即删除所有匹配的路由。
package mailgun

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"tempmail/bot/internal/config"
)

const (
	localPartLength   = 12
	localPartAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	routesPageLimit   = 100
	maxErrorBodyBytes = 1024
)

var (
	// ErrNotConfigured 缺少 API 密钥或域名
	ErrNotConfigured = errors.New("mailgun is not configured")
	// ErrProvider 服务商调用失败（网络错误或非预期状态码）
	ErrProvider = errors.New("mailgun request failed")
)

// APIError 表示服务商返回了非预期的状态码
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailgun %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is 使 errors.Is(err, ErrProvider) 对 APIError 成立
func (e *APIError) Is(target error) bool {
	return target == ErrProvider
}

// Address 是新生成的邮箱地址
type Address struct {
	Email   string
	RouteID string // 未配置转发或注册失败时为空
}

// Route 是服务商的一条路由规则
type Route struct {
	ID          string   `json:"id"`
	Priority    int      `json:"priority"`
	Description string   `json:"description"`
	Expression  string   `json:"expression"`
	Actions     []string `json:"actions"`
}

// Client 服务商 API 客户端
type Client struct {
	apiKey     string
	domain     string
	apiBase    string
	forwardURL string
	timeout    time.Duration
	httpClient *http.Client
	random     io.Reader
	log        *zap.Logger
}

// New 创建服务商客户端；缺少凭据时返回 ErrNotConfigured
func New(cfg config.MailgunConfig, log *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = "https://api.mailgun.net/v3"
	}

	return &Client{
		apiKey:     cfg.APIKey,
		domain:     cfg.Domain,
		apiBase:    apiBase,
		forwardURL: cfg.ForwardURL,
		timeout:    timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		random: rand.Reader,
		log:    log.Named("mailgun"),
	}, nil
}

// Domain 返回地址使用的域名
func (c *Client) Domain() string {
	return c.domain
}

// ========== 地址 ==========

// CreateAddress 生成新地址；配置了转发目标时注册路由
//
// 路由注册失败只记录警告，地址仍然返回。
func (c *Client) CreateAddress(ctx context.Context) (Address, error) {
	local, err := c.localPart()
	if err != nil {
		return Address{}, fmt.Errorf("%w: generate local part: %v", ErrProvider, err)
	}

	addr := Address{Email: local + "@" + c.domain}
	if c.forwardURL != "" {
		routeID, err := c.CreateRoute(ctx, addr.Email)
		if err != nil {
			c.log.Warn("failed to create mail route", zap.String("email", addr.Email), zap.Error(err))
		} else {
			addr.RouteID = routeID
		}
	}

	c.log.Info("address created", zap.String("email", addr.Email), zap.String("route_id", addr.RouteID))
	return addr, nil
}

// DeleteAddress 删除地址关联的所有路由；没有路由时视为成功
func (c *Client) DeleteAddress(ctx context.Context, email string) error {
	routes, err := c.FindRoutes(ctx, email)
	if err != nil {
		return fmt.Errorf("find routes for %s: %w", email, err)
	}

	for _, route := range routes {
		if route.ID == "" {
			continue
		}
		if err := c.DeleteRoute(ctx, route.ID); err != nil {
			return fmt.Errorf("delete route for %s: %w", email, err)
		}
	}

	c.log.Info("address deleted", zap.String("email", email), zap.Int("routes", len(routes)))
	return nil
}

func (c *Client) localPart() (string, error) {
	alphabetSize := big.NewInt(int64(len(localPartAlphabet)))
	var b strings.Builder
	b.Grow(localPartLength)
	for i := 0; i < localPartLength; i++ {
		n, err := rand.Int(c.random, alphabetSize)
		if err != nil {
			return "", err
		}
		b.WriteByte(localPartAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ========== 路由 ==========

// CreateRoute 注册把发往 email 的邮件转发到目标地址的路由，返回路由 ID
func (c *Client) CreateRoute(ctx context.Context, email string) (string, error) {
	form := url.Values{}
	form.Set("priority", "0")
	form.Set("description", "Temp mail route for "+email)
	form.Set("expression", fmt.Sprintf("match_recipient(%q)", email))
	form.Add("action", fmt.Sprintf("forward(%q)", c.forwardURL))
	form.Add("action", "stop()")

	var resp struct {
		Route Route `json:"route"`
	}
	if err := c.do(ctx, "create route", http.MethodPost, "/routes", form, &resp, http.StatusOK); err != nil {
		return "", err
	}

	c.log.Debug("route created", zap.String("route_id", resp.Route.ID), zap.String("email", email))
	return resp.Route.ID, nil
}

// FindRoutes 返回表达式中包含 email 的路由（只查询第一页）
func (c *Client) FindRoutes(ctx context.Context, email string) ([]Route, error) {
	var resp struct {
		Items []Route `json:"items"`
	}
	path := fmt.Sprintf("/routes?limit=%d", routesPageLimit)
	if err := c.do(ctx, "list routes", http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}

	matched := make([]Route, 0)
	for _, route := range resp.Items {
		if strings.Contains(route.Expression, email) {
			matched = append(matched, route)
		}
	}
	return matched, nil
}

// DeleteRoute 删除路由；路由不存在视为成功
func (c *Client) DeleteRoute(ctx context.Context, routeID string) error {
	path := "/routes/" + url.PathEscape(routeID)
	return c.do(ctx, "delete route", http.MethodDelete, path, nil, nil, http.StatusOK, http.StatusNotFound)
}

// ========== 域名 ==========

// VerifyDomain 检查域名在服务商处是否为 active 状态
func (c *Client) VerifyDomain(ctx context.Context) (bool, error) {
	var resp struct {
		Domain struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"domain"`
	}
	path := "/domains/" + url.PathEscape(c.domain)
	if err := c.do(ctx, "verify domain", http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return false, err
	}

	c.log.Info("domain state", zap.String("domain", c.domain), zap.String("state", resp.Domain.State))
	return resp.Domain.State == "active", nil
}

// do 发送请求；状态码不在 accepted 中时返回 *APIError
func (c *Client) do(ctx context.Context, op, method, path string, form url.Values, out any, accepted ...int) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s: build request: %v", ErrProvider, op, err)
	}
	req.SetBasicAuth("api", c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
	}
	defer resp.Body.Close()

	if !statusAccepted(resp.StatusCode, accepted) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.log.Error("mailgun request failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if out == nil || resp.StatusCode != http.StatusOK {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrProvider, op, err)
	}
	return nil
}

func statusAccepted(status int, accepted []int) bool {
	for _, s := range accepted {
		if status == s {
			return true
		}
	}
	return false
}
