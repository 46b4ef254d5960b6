package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载默认配置失败: %v", err)
	}
	if cfg.Exchange.Name != "gateio" {
		t.Errorf("期望默认交易所为 gateio，得到 %s", cfg.Exchange.Name)
	}
	if cfg.Ledger.Store != "memory" {
		t.Errorf("期望默认存储为 memory，得到 %s", cfg.Ledger.Store)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
exchange:
  name: gateio
  key: file-key
  secret: file-secret
ledger:
  store: sqlite
  dsn: ` + filepath.Join(dir, "ledger.db") + `
symbols: [BTC_USDT]
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("EXCHANGE_KEY", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Exchange.Key != "env-key" {
		t.Errorf("环境变量应覆盖文件中的 key，得到 %s", cfg.Exchange.Key)
	}
	if cfg.Exchange.Secret != "file-secret" {
		t.Errorf("未设置环境变量时应保留文件中的 secret，得到 %s", cfg.Exchange.Secret)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "BTC_USDT" {
		t.Errorf("symbols 解析错误: %v", cfg.Symbols)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cfg := defaultConfig()
	cfg.Ledger.Store = "sqlite"
	if err := cfg.Validate(); err == nil {
		t.Error("sqlite 存储缺少 dsn 时应校验失败")
	}

	cfg = defaultConfig()
	cfg.Stream.MaxReconnectDelaySeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("退避上限小于初始退避时应校验失败")
	}
}
