// Package client はwheelhaven APIのHTTPクライアントを提供する。
// 認証プロバイダー（identity.AuthProvider）とプロフィール取得元（identity.ProfileReader）を実装し、
// コンソールなどの長寿命クライアントからResolver経由で利用する。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/Nassermhasser/wheelhaven/internal/identity"
	"github.com/Nassermhasser/wheelhaven/internal/model"
)

const (
	// defaultTimeout はHTTPクライアントのデフォルトタイムアウト。
	defaultTimeout = 10 * time.Second
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 4 << 20
	// userAgent はリクエストに付与するUser-Agent。
	userAgent = "wheelhaven-console/1.0"
)

// Client はwheelhaven APIのクライアント。
// 認証はBearerトークンで行い、サーバーが設定するCookieはCookieJarで保持する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	retry      RetryPolicy

	mu        sync.Mutex
	session   *model.Session
	expiry    *time.Timer
	listeners map[int]func(identity.AuthEvent)
	order     []int
	nextID    int

	// emitMu はイベントをリスナーへ発生順に配信するための排他。
	emitMu sync.Mutex
}

var (
	_ identity.AuthProvider  = (*Client)(nil)
	_ identity.ProfileReader = (*Client)(nil)
)

// NewHTTPClient はPublic Suffix Listを使うCookieJar付きのHTTPクライアントを生成する。
func NewHTTPClient() (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cookie jarの作成に失敗しました: %w", err)
	}
	return &http.Client{
		Jar:     jar,
		Timeout: defaultTimeout,
	}, nil
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはAPIのオリジン（例: http://localhost:8080）。
func NewClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		retry:      DefaultRetryPolicy(),
		listeners:  make(map[int]func(identity.AuthEvent)),
	}
}

// WithRetryPolicy は再試行ポリシーを差し替えたClientを返す。
func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// errorBody はサーバーの統一エラーフォーマット。
type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// do はリクエストを送信し、成功時はレスポンスをoutにデコードする。
// 冪等なGETは一時的な障害に対して再試行する。
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
		}
		payload = b
	}

	attempts := 1
	if method == http.MethodGet && c.retry.MaxAttempts > 1 {
		attempts = c.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.Backoff(attempt - 1)
			c.logger.Debug("retrying request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return model.NewUnavailableError(ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = c.doOnce(ctx, method, path, c.currentToken(), payload, out)
		if !model.IsKind(lastErr, model.KindUnavailable) {
			return lastErr
		}
	}
	return lastErr
}

// doWithToken は指定したトークンでボディなしのリクエストを1回だけ送信する。
func (c *Client) doWithToken(ctx context.Context, method, path, token string) error {
	return c.doOnce(ctx, method, path, token, nil, nil)
}

func (c *Client) doOnce(ctx context.Context, method, path, token string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("API request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return model.NewUnavailableError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.NewUnavailableError(fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewInternalError(fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err))
	}
	return nil
}

// decodeError はエラーレスポンスをAPIErrorに変換する。
func decodeError(status int, data []byte) error {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		body = errorBody{
			Code:    fmt.Sprintf("HTTP_%d", status),
			Message: strings.TrimSpace(string(data)),
		}
		if body.Message == "" {
			body.Message = http.StatusText(status)
		}
	}

	apiErr := &model.APIError{
		Kind:     kindForStatus(status, body.Code),
		Code:     body.Code,
		Message:  body.Message,
		Category: body.Category,
		Action:   body.Action,
	}
	if apiErr.Code == model.ErrCodeProfileNotFound {
		apiErr.Err = model.ErrProfileNotFound
	}
	return apiErr
}

// kindForStatus はHTTPステータスからエラー分類を復元する。
func kindForStatus(status int, code string) model.ErrorKind {
	switch {
	case status == http.StatusBadRequest:
		return model.KindValidation
	case status == http.StatusUnauthorized:
		return model.KindUnauthenticated
	case status == http.StatusForbidden:
		return model.KindForbidden
	case status == http.StatusNotFound:
		return model.KindNotFound
	case status == http.StatusConflict:
		return model.KindConflict
	case status == http.StatusTooManyRequests:
		return model.KindUnavailable
	case status == http.StatusServiceUnavailable && code == model.ErrCodeAuthPending:
		return model.KindPending
	case status > http.StatusInternalServerError:
		return model.KindUnavailable
	default:
		return model.KindUnexpected
	}
}

// IsNotFound はエラーが未検出を表すかを返す。
func IsNotFound(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Kind == model.KindNotFound
}
