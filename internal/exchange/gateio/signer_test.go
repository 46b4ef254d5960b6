package gateio

import "testing"

// 已知向量：key/secret/timestamp/body 固定时，签名必须逐字节一致。
// 期望值由参考实现（独立的 HMAC-SHA512 计算）预先算出。
func TestSigner_RestHeaders_KnownVector(t *testing.T) {
	signer := NewSigner("test-key", "test-secret")

	body := `{"currency_pair":"BTC_USDT","side":"buy","amount":"0.01","price":"50000"}`
	headers := signer.RestHeaders("POST", "/api/v4/spot/orders", "", body, 1700000000)

	if headers["KEY"] != "test-key" {
		t.Errorf("期望 KEY 为 test-key，得到 %s", headers["KEY"])
	}
	if headers["Timestamp"] != "1700000000" {
		t.Errorf("期望 Timestamp 为 1700000000，得到 %s", headers["Timestamp"])
	}

	expected := "5749a983e922122adf6bfe622bc387aa1e7ddb0063b1e4096a904b970ab10e11b305e708c64e03f3bed402575720b02511bde6ae9fab0ed4758b69ae13d085f1"
	if headers["SIGN"] != expected {
		t.Errorf("签名不一致:\n期望 %s\n得到 %s", expected, headers["SIGN"])
	}
}

// GET 请求带查询串、空请求体（空体也要参与 SHA-512 摘要）
func TestSigner_RestHeaders_EmptyBodyWithQuery(t *testing.T) {
	signer := NewSigner("test-key", "test-secret")

	headers := signer.RestHeaders("GET", "/api/v4/spot/accounts", "currency=USDT", "", 1700000000)

	expected := "d468582a134a0ba79cd1a4be803141dfbd0b67478363e0c2aa109fb6c18c83a24370696bd515ca0a6734d109de6841ec205f8b7a73f1cc3cb468ba8ec8663dfc"
	if headers["SIGN"] != expected {
		t.Errorf("签名不一致:\n期望 %s\n得到 %s", expected, headers["SIGN"])
	}
}

// 私有频道订阅签名使用较短的规范串 channel=<c>&event=<e>&time=<t>
func TestSigner_WsSign_KnownVector(t *testing.T) {
	signer := NewSigner("test-key", "test-secret")

	got := signer.WsSign("spot.orders", "subscribe", 1700000000)
	expected := "48c67de39ba434f1c9dc1e664cb9e13b32b42f10356e65405b79ee975e5c1fdecd7277bc4b7603bc67ff8d4f099362ac4313b90e176d749e5c79d721ebaa96e6"
	if got != expected {
		t.Errorf("WS 签名不一致:\n期望 %s\n得到 %s", expected, got)
	}
}

func TestSigner_HasCredentials(t *testing.T) {
	if NewSigner("", "").HasCredentials() {
		t.Error("空凭证不应判定为已配置")
	}
	if !NewSigner("k", "s").HasCredentials() {
		t.Error("非空凭证应判定为已配置")
	}
}
