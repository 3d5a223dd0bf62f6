package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.conf")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const minimalValidConfig = `
exchange_name = okx
api_key = key123
api_secret = secret456
path1 = {"route": "USDT-BTC-ETH-USDT"}
`

func TestLoadMinimal(t *testing.T) {
	path := writeConfigFile(t, minimalValidConfig)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Exchange.Name != "okx" {
		t.Errorf("Exchange.Name = %q, want okx", cfg.Exchange.Name)
	}
	if len(cfg.Paths) != 1 {
		t.Fatalf("len(Paths) = %d, want 1", len(cfg.Paths))
	}
	if cfg.Paths[0].StartAsset != "USDT" {
		t.Errorf("StartAsset = %q, want USDT", cfg.Paths[0].StartAsset)
	}
	if cfg.Trading.MonitorInterval != time.Second {
		t.Errorf("MonitorInterval default = %v, want 1s", cfg.Trading.MonitorInterval)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfigFile(t, minimalValidConfig+"\ntotaly_bogus_key = 1\n")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	path := writeConfigFile(t, "exchange_name = okx\npath1 = {\"route\": \"USDT-BTC-ETH-USDT\"}\n")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for missing api_key/api_secret")
	}
}

func TestLoadAllowsPublicOnlyWithoutCredentials(t *testing.T) {
	path := writeConfigFile(t, "exchange_name = okx\npublic_only = true\npath1 = {\"route\": \"USDT-BTC-ETH-USDT\"}\n")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.Trading.PublicOnly {
		t.Error("PublicOnly = false, want true")
	}
}

func TestLoadDeprecatedAliasMapsToNewKey(t *testing.T) {
	path := writeConfigFile(t, minimalValidConfig+"\nprice_adjustment = 0.002\n")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Trading.SlippageTolerance != 0.002 {
		t.Errorf("SlippageTolerance = %v, want 0.002 via deprecated alias", cfg.Trading.SlippageTolerance)
	}
}

func TestLoadParsesFeeRates(t *testing.T) {
	path := writeConfigFile(t, minimalValidConfig+"\nfee_rate_BTC-USDT = 0.001\nfee_rate_ETH-BTC = 0.0015\n")
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Fees["BTC-USDT"] != 0.001 {
		t.Errorf("Fees[BTC-USDT] = %v, want 0.001", cfg.Fees["BTC-USDT"])
	}
}

func TestLoadRejectsMissingEqualsSign(t *testing.T) {
	path := writeConfigFile(t, "this line has no equals sign\n")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestLoadRejectsInvalidPathJSON(t *testing.T) {
	path := writeConfigFile(t, "exchange_name = okx\napi_key = a\napi_secret = b\npath1 = not json\n")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for invalid path JSON")
	}
}
