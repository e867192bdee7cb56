package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qns-project/qns-core/pkg/uci"
)

const sampleConfig = `
config main 'main'
	option enable '1'
	option log_level 'debug'
	option metrics_port '9200'
	option health_port '9201'
	option audit_enabled '0'
	option policy_asset_dir '/etc/qns/policy-test'
	list carrier_override 'carrier_310260'
	list carrier_override 'carrier_310410'

config carrier 'carrier_310260'
	option eutran.idle.good '-92'
	option handover_rule_list 'EUTRAN>NGRAN'

config carrier 'carrier_310410'
	option eutran.idle.good '-88'
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qns")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := uci.LoadConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Enable || cfg.LogLevel != "info" || cfg.MetricsPort != 9123 {
		t.Fatalf("expected hard defaults, got %+v", cfg)
	}
}

func TestLoadConfigParsesMainSectionAndOverrides(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := uci.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level=debug, got %q", cfg.LogLevel)
	}
	if cfg.MetricsPort != 9200 || cfg.HealthPort != 9201 {
		t.Errorf("expected overridden ports, got metrics=%d health=%d", cfg.MetricsPort, cfg.HealthPort)
	}
	if cfg.AuditEnabled {
		t.Error("expected audit_enabled=0 to disable auditing")
	}
	if cfg.PolicyAssetDir != "/etc/qns/policy-test" {
		t.Errorf("expected overridden policy asset dir, got %q", cfg.PolicyAssetDir)
	}
	if len(cfg.CarrierOverrides) != 2 || cfg.CarrierOverrides[0] != "carrier_310260" {
		t.Errorf("expected two carrier overrides in list order, got %+v", cfg.CarrierOverrides)
	}
}

func TestLoadConfigParsesCarrierSections(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := uci.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Carriers) != 2 {
		t.Fatalf("expected 2 carrier sections, got %d", len(cfg.Carriers))
	}
	if cfg.Carriers["carrier_310260"]["eutran.idle.good"] != "-92" {
		t.Errorf("expected carrier_310260 override, got %+v", cfg.Carriers["carrier_310260"])
	}
	if cfg.Carriers["carrier_310410"]["eutran.idle.good"] != "-88" {
		t.Errorf("expected carrier_310410 override, got %+v", cfg.Carriers["carrier_310410"])
	}
}

func TestLoadConfigRejectsInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, "config main 'main'\n\toption log_level 'verbose'\n")
	if _, err := uci.LoadConfig(path); err == nil {
		t.Fatal("expected an error for an invalid log_level")
	}
}

func TestLoadConfigRejectsClashingPorts(t *testing.T) {
	path := writeConfig(t, "config main 'main'\n\toption metrics_port '9123'\n\toption health_port '9123'\n")
	if _, err := uci.LoadConfig(path); err == nil {
		t.Fatal("expected an error when metrics_port and health_port collide")
	}
}
