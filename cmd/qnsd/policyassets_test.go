package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/qns-project/qns-core/pkg/uci"
)

func TestLoadDefaultAssetsMissingFileReturnsEmptyMap(t *testing.T) {
	assets, err := loadDefaultAssets(t.TempDir())
	if err != nil {
		t.Fatalf("loadDefaultAssets: %v", err)
	}
	if len(assets) != 0 {
		t.Fatalf("expected empty map, got %+v", assets)
	}
}

func TestLoadDefaultAssetsParsesJSON(t *testing.T) {
	dir := t.TempDir()
	data, _ := json.Marshal(map[string]string{"eutran_good_rsrp": "-97"})
	if err := os.WriteFile(filepath.Join(dir, "default.json"), data, 0o644); err != nil {
		t.Fatalf("write default.json: %v", err)
	}

	assets, err := loadDefaultAssets(dir)
	if err != nil {
		t.Fatalf("loadDefaultAssets: %v", err)
	}
	if assets["eutran_good_rsrp"] != "-97" {
		t.Fatalf("expected asset value to round-trip, got %+v", assets)
	}
}

func TestLoadDefaultAssetsRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "default.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write default.json: %v", err)
	}

	if _, err := loadDefaultAssets(dir); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestBuildCarrierConfigsAlwaysIncludesDefault(t *testing.T) {
	configs, err := buildCarrierConfigs(map[string]string{}, map[string]map[string]string{
		"carrier_310260": {"eutran_good_rsrp": "-90"},
	})
	if err != nil {
		t.Fatalf("buildCarrierConfigs: %v", err)
	}
	if _, ok := configs["default"]; !ok {
		t.Fatal("expected a synthetic default carrier config")
	}
	if _, ok := configs["carrier_310260"]; !ok {
		t.Fatal("expected the configured carrier override to be present")
	}
}

func TestSelectActiveCarrierFallsBackToDefault(t *testing.T) {
	configs, err := buildCarrierConfigs(map[string]string{}, map[string]map[string]string{})
	if err != nil {
		t.Fatalf("buildCarrierConfigs: %v", err)
	}
	cfg := &uci.Config{CarrierOverrides: []string{"carrier_999"}}

	active := selectActiveCarrier(cfg, configs)
	if active != configs["default"] {
		t.Fatal("expected fallback to the default carrier config when no override matches")
	}
}

func TestSelectActiveCarrierPicksFirstMatchingOverride(t *testing.T) {
	configs, err := buildCarrierConfigs(map[string]string{}, map[string]map[string]string{
		"carrier_310260": {},
	})
	if err != nil {
		t.Fatalf("buildCarrierConfigs: %v", err)
	}
	cfg := &uci.Config{CarrierOverrides: []string{"carrier_999", "carrier_310260"}}

	active := selectActiveCarrier(cfg, configs)
	if active != configs["carrier_310260"] {
		t.Fatal("expected the first configured override that has a matching config")
	}
}
