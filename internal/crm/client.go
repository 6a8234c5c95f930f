// server/internal/crm/client.go
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"wecare-supplier-api-server/config"
	"wecare-supplier-api-server/internal/models"
)

const maxErrorBody = 512

// Client gọi Dynamics 365 Web API thay cho mini app.
type Client struct {
	baseURL  string
	tokenURL string
	http     *http.Client
	log      logrus.FieldLogger

	pendingTop int
	allTop     int
	tokenSkew  time.Duration

	defaultPassword string
	bcryptCost      int

	loc *time.Location
	now func() time.Time

	// token chỉ được cache khi là JWT có exp. mu không được giữ trong lúc gọi mạng.
	mu       sync.Mutex
	token    string
	tokenExp time.Time
	// các lời gọi đồng thời dùng chung một lần lấy token
	tokenFlight singleflight.Group
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg config.CRMConfig, authCfg config.AuthConfig, log logrus.FieldLogger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:        cfg.TokenURL,
		http:            &http.Client{Timeout: timeout},
		log:             log.WithField("component", "crm"),
		pendingTop:      cfg.PendingTop,
		allTop:          cfg.AllTop,
		tokenSkew:       cfg.TokenSkew,
		defaultPassword: authCfg.DefaultPassword,
		bcryptCost:      authCfg.BcryptCost,
		loc:             models.Location,
		now:             time.Now,
	}
	if c.pendingTop <= 0 {
		c.pendingTop = 50
	}
	if c.allTop <= 0 {
		c.allTop = 100
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessToken trả về bearer token cho Web API.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Add(c.tokenSkew).Before(c.tokenExp) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	// Lần lấy token dùng chung không bị hủy theo ctx của người gọi đầu tiên.
	ch := c.tokenFlight.DoChan("token", func() (any, error) {
		return c.refreshToken(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &TokenError{Err: ctx.Err()}
	}
}

func (c *Client) refreshToken(ctx context.Context) (string, error) {
	token, err := c.fetchToken(ctx)
	if err != nil {
		c.log.WithError(err).Error("Error getting access token")
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.token, c.tokenExp = "", time.Time{}
	if exp, ok := tokenExpiry(token); ok {
		c.token, c.tokenExp = token, exp
	}
	return token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token, c.tokenExp = "", time.Time{}
	c.mu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, nil)
	if err != nil {
		return "", &TokenError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TokenError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TokenError{StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TokenError{Err: err}
	}

	var token string
	text := strings.TrimSpace(string(body))
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") && strings.HasPrefix(text, "eyJ") {
		token = text
	} else {
		var payload struct {
			AccessToken string `json:"access_token"`
			Token       string `json:"token"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", &TokenError{Err: errors.New("invalid response format from access token endpoint")}
		}
		token = payload.AccessToken
		if token == "" {
			token = payload.Token
		}
	}
	if token == "" {
		return "", &TokenError{Err: errors.New("access token not found in response")}
	}
	return token, nil
}

// tokenExpiry đọc exp của JWT mà không kiểm tra chữ ký (token do Azure AD ký, ta chỉ cần biết hạn).
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// do gửi một request tới Web API. Khi gặp 401 token bị hủy và request được gửi lại một lần.
func (c *Client) do(ctx context.Context, op, method, path string, q *query, body any, out any) error {
	endpoint := c.baseURL + "/" + path
	if q != nil {
		endpoint += "?" + q.encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("crm %s: encode body: %w", op, err)
		}
	}

	for attempt := 0; ; attempt++ {
		token, err := c.AccessToken(ctx)
		if err != nil {
			return err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return &NetworkError{Op: op, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("OData-MaxVersion", "4.0")
		req.Header.Set("OData-Version", "4.0")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return &NetworkError{Op: op, Err: err}
		}
		entry := c.log.WithFields(logrus.Fields{
			"op":          op,
			"status":      resp.StatusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		})

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			drain(resp)
			entry.Warn("CRM rejected token, refreshing")
			c.invalidateToken()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			resp.Body.Close()
			entry.WithField("body", string(raw)).Error("CRM request failed")
			return &NetworkError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
		}
		entry.Debug("CRM request completed")

		defer resp.Body.Close()
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
