package gateio

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tradecore/gotrade/internal/domain"
	"github.com/tradecore/gotrade/pkg/ratelimit"
)

const defaultBaseURL = "https://api.gateio.ws"

// apiError 交易所错误响应体
type apiError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// Transport 带签名的 REST 执行器。
// 无状态（除限流桶），可在多个 goroutine 间共享；
// 重试策略由调用方负责，这里只做一次调用并归类错误。
type Transport struct {
	client  *resty.Client
	signer  *Signer
	limiter ratelimit.RateLimiter
	log     *logrus.Entry
}

// NewTransport 创建 REST 执行器
func NewTransport(baseURL string, signer *Signer, limiter ratelimit.RateLimiter) *Transport {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	return &Transport{
		client:  client,
		signer:  signer,
		limiter: limiter,
		log:     logrus.WithField("component", "gateio_transport"),
	}
}

// Execute 执行一次 REST 调用。
// 返回原始 JSON 响应体；失败归入四类错误之一：
// AuthError / RateLimitError / RemoteError / NetworkError。
func (t *Transport) Execute(ctx context.Context, method, path string, params url.Values, body []byte, requiresAuth bool) (json.RawMessage, error) {
	if requiresAuth && !t.signer.HasCredentials() {
		return nil, &domain.AuthError{Reason: "missing api credentials for " + path}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if err == ratelimit.ErrQueueFull {
				return nil, &domain.RateLimitError{}
			}
			return nil, &domain.NetworkError{Op: method + " " + path, Err: err}
		}
	}

	// 查询串在构造时就排序，保证参与签名的串与实际发送的一致
	query := ""
	if len(params) > 0 {
		query = params.Encode()
	}

	req := t.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	if requiresAuth {
		timestamp := time.Now().Unix()
		headers := t.signer.RestHeaders(method, path, query, string(body), timestamp)
		req.SetHeaders(headers)
	}

	reqURL := path
	if query != "" {
		reqURL = path + "?" + query
	}

	resp, err := req.Execute(method, reqURL)
	if err != nil {
		return nil, &domain.NetworkError{Op: method + " " + path, Err: err}
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return json.RawMessage(resp.Body()), nil
	case status == 429:
		retryAfter := 0
		if v := resp.Header().Get("Retry-After"); v != "" {
			retryAfter, _ = strconv.Atoi(v)
		}
		t.log.Warnf("限流: %s %s retry-after=%d", method, path, retryAfter)
		return nil, &domain.RateLimitError{RetryAfterSeconds: retryAfter}
	case status == 401 || status == 403:
		var ae apiError
		_ = json.Unmarshal(resp.Body(), &ae)
		return nil, &domain.AuthError{Reason: ae.Message}
	default:
		var ae apiError
		if uerr := json.Unmarshal(resp.Body(), &ae); uerr != nil {
			ae.Message = string(resp.Body())
		}
		return nil, &domain.RemoteError{StatusCode: status, Label: ae.Label, Message: ae.Message}
	}
}

// executeJSON 执行调用并反序列化到 out
func (t *Transport) executeJSON(ctx context.Context, method, path string, params url.Values, body []byte, requiresAuth bool, out interface{}) error {
	raw, err := t.Execute(ctx, method, path, params, body, requiresAuth)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}
