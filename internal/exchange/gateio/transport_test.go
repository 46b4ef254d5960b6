package gateio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/tradecore/gotrade/internal/domain"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) (*Transport, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTransport(srv.URL, NewSigner("test-key", "test-secret"), nil), srv
}

func TestTransportSignsAuthenticatedRequests(t *testing.T) {
	var gotKey, gotSign, gotTimestamp string
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("KEY")
		gotSign = r.Header.Get("SIGN")
		gotTimestamp = r.Header.Get("Timestamp")
		w.Write([]byte(`[]`))
	})

	if _, err := tr.Execute(context.Background(), "GET", "/api/v4/spot/accounts", nil, nil, true); err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("KEY 头错误: %s", gotKey)
	}
	if gotSign == "" || gotTimestamp == "" {
		t.Error("认证请求必须携带 SIGN 与 Timestamp 头")
	}
}

func TestTransportPublicRequestsUnsigned(t *testing.T) {
	var gotSign string
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("SIGN")
		w.Write([]byte(`[]`))
	})

	if _, err := tr.Execute(context.Background(), "GET", "/api/v4/spot/tickers", nil, nil, false); err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if gotSign != "" {
		t.Error("公共请求不应携带签名头")
	}
}

func TestTransportMissingCredentials(t *testing.T) {
	tr := NewTransport("http://127.0.0.1:0", NewSigner("", ""), nil)
	_, err := tr.Execute(context.Background(), "GET", "/api/v4/spot/accounts", nil, nil, true)
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("缺失凭证应返回 AuthError，实际: %v", err)
	}
}

func TestTransportQueryInSignedPath(t *testing.T) {
	var gotQuery string
	tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[]`))
	})

	params := url.Values{"currency_pair": {"BTC_USDT"}, "limit": {"10"}}
	if _, err := tr.Execute(context.Background(), "GET", "/api/v4/spot/trades", params, nil, true); err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	// 发送的查询串必须与参与签名的排序串一致
	if gotQuery != params.Encode() {
		t.Errorf("查询串不一致: got=%s want=%s", gotQuery, params.Encode())
	}
}

func TestTransportErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		header map[string]string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "429 限流",
			status: http.StatusTooManyRequests,
			body:   `{"label":"TOO_MANY_REQUESTS","message":"slow down"}`,
			header: map[string]string{"Retry-After": "3"},
			check: func(t *testing.T, err error) {
				var rle *domain.RateLimitError
				if !errors.As(err, &rle) {
					t.Fatalf("应为 RateLimitError: %v", err)
				}
				if rle.RetryAfterSeconds != 3 {
					t.Errorf("Retry-After 解析错误: %d", rle.RetryAfterSeconds)
				}
			},
		},
		{
			name:   "401 认证失败",
			status: http.StatusUnauthorized,
			body:   `{"label":"INVALID_KEY","message":"bad key"}`,
			check: func(t *testing.T, err error) {
				var ae *domain.AuthError
				if !errors.As(err, &ae) {
					t.Fatalf("应为 AuthError: %v", err)
				}
			},
		},
		{
			name:   "400 交易所拒绝",
			status: http.StatusBadRequest,
			body:   `{"label":"INVALID_PARAM_VALUE","message":"amount too small"}`,
			check: func(t *testing.T, err error) {
				var re *domain.RemoteError
				if !errors.As(err, &re) {
					t.Fatalf("应为 RemoteError: %v", err)
				}
				if re.Label != "INVALID_PARAM_VALUE" || re.StatusCode != 400 {
					t.Errorf("错误字段不完整: %+v", re)
				}
			},
		},
		{
			name:   "500 服务端错误",
			status: http.StatusInternalServerError,
			body:   `{"label":"SERVER_ERROR","message":"oops"}`,
			check: func(t *testing.T, err error) {
				var re *domain.RemoteError
				if !errors.As(err, &re) {
					t.Fatalf("应为 RemoteError: %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := tr.Execute(context.Background(), "GET", "/api/v4/spot/accounts", nil, nil, true)
			if err == nil {
				t.Fatal("非 2xx 响应必须返回错误")
			}
			tt.check(t, err)
		})
	}
}

func TestTransportNetworkError(t *testing.T) {
	// 不可达地址
	tr := NewTransport("http://127.0.0.1:1", NewSigner("k", "s"), nil)
	_, err := tr.Execute(context.Background(), "GET", "/api/v4/spot/tickers", nil, nil, false)
	var ne *domain.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("连接失败应返回 NetworkError: %v", err)
	}
}
