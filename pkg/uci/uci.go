package uci

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/qns-project/qns-core/pkg/logx"
)

// UCI is a client for the OpenWrt `uci` CLI, scoped to the "qns" config
// package (/etc/config/qns: one "main" section plus one "carrier" section
// per MCC/MNC the device has seen overrides for).
type UCI struct {
	logger *logx.Logger
}

// NewUCI creates a new UCI client.
func NewUCI(logger *logx.Logger) *UCI {
	return &UCI{logger: logger}
}

// LoadConfig loads the complete qnsd configuration from the live UCI tree.
func (u *UCI) LoadConfig(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	if err := u.loadMainConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("load main config: %w", err)
	}
	if err := u.loadCarrierConfigs(ctx, cfg); err != nil {
		return nil, fmt.Errorf("load carrier configs: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (u *UCI) loadMainConfig(ctx context.Context, cfg *Config) error {
	output, err := u.execUCI(ctx, "show", "qns.@main[0]")
	if err != nil {
		return nil // no qns.main section yet: keep defaults
	}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		option := parts[0][strings.LastIndex(parts[0], ".")+1:]
		cfg.parseMainOption(option, strings.Trim(parts[1], "'\""))
	}
	return nil
}

// loadCarrierConfigs loads every "carrier" section into cfg.Carriers,
// keyed by the UCI section name (conventionally "carrier_<mccmnc>").
func (u *UCI) loadCarrierConfigs(ctx context.Context, cfg *Config) error {
	output, err := u.execUCI(ctx, "show", "qns")
	if err != nil {
		return nil
	}

	var currentSection, currentType string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" || !strings.Contains(line, "=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		left := parts[0]
		right := strings.Trim(parts[1], "'\"")
		leftParts := strings.Split(left, ".")

		if len(leftParts) == 2 {
			currentSection = leftParts[1]
			currentType = right
			if currentType == "carrier" && cfg.Carriers[currentSection] == nil {
				cfg.Carriers[currentSection] = make(map[string]string)
			}
			continue
		}
		if len(leftParts) >= 3 && currentType == "carrier" {
			cfg.Carriers[currentSection][leftParts[2]] = right
		}
	}
	return nil
}

// SetOption sets a UCI option on the qns config package.
func (u *UCI) SetOption(ctx context.Context, section, option, value string) error {
	_, err := u.execUCI(ctx, "set", fmt.Sprintf("qns.%s.%s=%s", section, option, value))
	return err
}

// DeleteOption deletes a UCI option.
func (u *UCI) DeleteOption(ctx context.Context, section, option string) error {
	_, err := u.execUCI(ctx, "delete", fmt.Sprintf("qns.%s.%s", section, option))
	return err
}

// Commit commits pending UCI changes.
func (u *UCI) Commit(ctx context.Context) error {
	_, err := u.execUCI(ctx, "commit", "qns")
	return err
}

// Revert reverts pending UCI changes.
func (u *UCI) Revert(ctx context.Context) error {
	_, err := u.execUCI(ctx, "revert", "qns")
	return err
}

// AddSection adds a new UCI section, e.g. a fresh "carrier" override.
func (u *UCI) AddSection(ctx context.Context, sectionType, sectionName string) error {
	if _, err := u.execUCI(ctx, "add", "qns", sectionType); err != nil {
		return err
	}
	if sectionName != "" {
		return u.SetOption(ctx, sectionName, "name", sectionName)
	}
	return nil
}

// DeleteSection deletes a UCI section.
func (u *UCI) DeleteSection(ctx context.Context, sectionName string) error {
	_, err := u.execUCI(ctx, "delete", fmt.Sprintf("qns.%s", sectionName))
	return err
}

func (u *UCI) execUCI(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "uci", args...)
	output, err := cmd.Output()
	if err != nil {
		if u.logger != nil {
			u.logger.Error("UCI command failed", "command", "uci "+strings.Join(args, " "), "error", err)
		}
		return "", fmt.Errorf("uci command failed: %w", err)
	}
	return string(output), nil
}

// ValidateUCI checks that the `uci` binary is present and working.
func (u *UCI) ValidateUCI(ctx context.Context) error {
	if _, err := u.execUCI(ctx, "version"); err != nil {
		return fmt.Errorf("UCI is not available: %w", err)
	}
	return nil
}

// BackupConfig exports the current qns config tree as text.
func (u *UCI) BackupConfig(ctx context.Context) (string, error) {
	output, err := u.execUCI(ctx, "export", "qns")
	if err != nil {
		return "", fmt.Errorf("export config: %w", err)
	}
	return output, nil
}

// RestoreConfig restores a prior export produced by BackupConfig.
func (u *UCI) RestoreConfig(ctx context.Context, backup string) error {
	if err := u.Revert(ctx); err != nil {
		return fmt.Errorf("revert before restore: %w", err)
	}
	if _, err := u.execUCI(ctx, "import", backup); err != nil {
		return fmt.Errorf("import backup: %w", err)
	}
	return u.Commit(ctx)
}

// GetConfigHash returns a cheap change-detection fingerprint of the
// current config tree.
func (u *UCI) GetConfigHash(ctx context.Context) (string, error) {
	output, err := u.execUCI(ctx, "export", "qns")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", len(output)), nil
}

// WatchConfig polls for carrier-config or main-config changes and invokes
// callback on detected change, matching the PolicyStore's "config changes
// must be observable and atomic" requirement.
func (u *UCI) WatchConfig(ctx context.Context, callback func()) error {
	initialHash, err := u.GetConfigHash(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			currentHash, err := u.GetConfigHash(ctx)
			if err != nil {
				if u.logger != nil {
					u.logger.Error("Failed to get config hash", "error", err)
				}
				continue
			}
			if currentHash != initialHash {
				if u.logger != nil {
					u.logger.Info("Configuration changed, triggering reload")
				}
				callback()
				initialHash = currentHash
			}
		}
	}
}
