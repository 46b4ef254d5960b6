package gateio

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// Signer 负责 REST 与 WebSocket 私有频道的 HMAC-SHA512 签名。
// 无状态，可在多个 goroutine 间共享。
type Signer struct {
	key    string
	secret []byte
}

// NewSigner 创建签名器
func NewSigner(key, secret string) *Signer {
	return &Signer{key: key, secret: []byte(secret)}
}

// HasCredentials 是否配置了凭证
func (s *Signer) HasCredentials() bool {
	return s.key != "" && len(s.secret) > 0
}

// RestHeaders 构造认证请求头。
// 签名串：METHOD\nPATH\nQUERY\nSHA512(BODY)\nTIMESTAMP，
// 其中 SHA512(BODY) 为请求体的十六进制摘要（空体也要计算）。
func (s *Signer) RestHeaders(method, path, query, body string, timestamp int64) map[string]string {
	bodyHash := sha512.Sum512([]byte(body))
	payload := fmt.Sprintf("%s\n%s\n%s\n%s\n%d",
		method, path, query, hex.EncodeToString(bodyHash[:]), timestamp)

	return map[string]string{
		"KEY":       s.key,
		"Timestamp": fmt.Sprintf("%d", timestamp),
		"SIGN":      s.sign(payload),
	}
}

// WsSign 私有频道订阅签名。
// 签名串比 REST 短：channel=<c>&event=<e>&time=<t>。
func (s *Signer) WsSign(channel, event string, timestamp int64) string {
	payload := fmt.Sprintf("channel=%s&event=%s&time=%d", channel, event, timestamp)
	return s.sign(payload)
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Key 返回 API key（订阅帧的 auth 块需要）
func (s *Signer) Key() string {
	return s.key
}
