package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qns-project/qns-core/pkg/policy"
	"github.com/qns-project/qns-core/pkg/uci"
)

// loadDefaultAssets reads the shipped carrier-config defaults — the asset
// layer of PolicyStore's two-layer lookup — from <asset-dir>/default.json.
// A missing file yields an empty map (every getter already has a hard-coded
// fallback below the asset layer).
func loadDefaultAssets(assetDir string) (map[string]string, error) {
	path := filepath.Join(assetDir, "default.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy asset defaults %s: %w", path, err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse policy asset defaults %s: %w", path, err)
	}
	return m, nil
}

// buildCarrierConfigs turns the UCI "carrier" sections into CarrierConfigs
// layered on top of the shared asset defaults, plus a synthetic "default"
// entry for slots whose SIM hasn't matched any carrier override yet.
func buildCarrierConfigs(assets map[string]string, carriers map[string]map[string]string) (map[string]*policy.CarrierConfig, error) {
	configs := make(map[string]*policy.CarrierConfig, len(carriers)+1)

	def, err := policy.NewCarrierConfig("default", assets, map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("build default carrier config: %w", err)
	}
	configs["default"] = def

	for carrierID, overrides := range carriers {
		cc, err := policy.NewCarrierConfig(carrierID, assets, overrides)
		if err != nil {
			return nil, fmt.Errorf("build carrier config %s: %w", carrierID, err)
		}
		configs[carrierID] = cc
	}
	return configs, nil
}

// selectActiveCarrier picks the first configured carrier override, falling
// back to "default" when none are configured — a stand-in for the PLMN ->
// carrier-config match a real modem stack performs on SIM registration.
func selectActiveCarrier(cfg *uci.Config, configs map[string]*policy.CarrierConfig) *policy.CarrierConfig {
	for _, id := range cfg.CarrierOverrides {
		if cc, ok := configs[id]; ok {
			return cc
		}
	}
	return configs["default"]
}
