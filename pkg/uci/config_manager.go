package uci

import (
	"context"
	"fmt"

	"github.com/qns-project/qns-core/pkg/logx"
)

// ConfigManager ensures the "qns" UCI config package has the sections and
// options qnsd needs on first boot, creating them with defaults when
// absent rather than failing startup.
type ConfigManager struct {
	client *UCI
	logger *logx.Logger
}

// NewConfigManager creates a ConfigManager bound to a UCI client.
func NewConfigManager(client *UCI, logger *logx.Logger) *ConfigManager {
	return &ConfigManager{client: client, logger: logger}
}

// requiredMainOptions are the main-section options qnsd assumes exist;
// missing ones are seeded from the in-memory default Config.
func requiredMainOptions(defaults *Config) map[string]string {
	return map[string]string{
		"enable":              boolStr(defaults.Enable),
		"log_level":           defaults.LogLevel,
		"log_file":            defaults.LogFile,
		"metrics_listener":    boolStr(defaults.MetricsListener),
		"metrics_port":        fmt.Sprintf("%d", defaults.MetricsPort),
		"health_listener":     boolStr(defaults.HealthListener),
		"health_port":         fmt.Sprintf("%d", defaults.HealthPort),
		"api_listener":        boolStr(defaults.APIListener),
		"api_port":            fmt.Sprintf("%d", defaults.APIPort),
		"audit_enabled":       boolStr(defaults.AuditEnabled),
		"telem_retention_hours": fmt.Sprintf("%d", defaults.TelemRetentionHours),
		"policy_asset_dir":    defaults.PolicyAssetDir,
	}
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// EnsureRequiredConfig creates the qns.main section (and any missing
// options on it) if it is absent. It does not commit; the changes stay
// pending until Commit.
func (cm *ConfigManager) EnsureRequiredConfig(ctx context.Context) error {
	if err := cm.ensureConfigFileExists(ctx); err != nil {
		return err
	}

	defaults := &Config{}
	setDefaults(defaults)

	if err := cm.ensureSection(ctx, "main", requiredMainOptions(defaults)); err != nil {
		return err
	}
	return nil
}

func (cm *ConfigManager) ensureSection(ctx context.Context, sectionType string, options map[string]string) error {
	_, err := cm.client.execUCI(ctx, "show", fmt.Sprintf("qns.@%s[0]", sectionType))
	if err != nil {
		cm.logger.Info("Creating missing UCI section", "section", sectionType)
		return cm.createSection(ctx, sectionType, options)
	}
	return cm.ensureOptions(ctx, sectionType, options)
}

func (cm *ConfigManager) createSection(ctx context.Context, sectionType string, options map[string]string) error {
	if _, err := cm.client.execUCI(ctx, "add", "qns", sectionType); err != nil {
		return fmt.Errorf("add section %s: %w", sectionType, err)
	}
	for option, value := range options {
		if err := cm.setOption(ctx, sectionType, 0, option, value); err != nil {
			return fmt.Errorf("set option %s.%s: %w", sectionType, option, err)
		}
	}
	return nil
}

func (cm *ConfigManager) ensureOptions(ctx context.Context, sectionType string, options map[string]string) error {
	for option, defaultValue := range options {
		if _, err := cm.client.execUCI(ctx, "get", fmt.Sprintf("qns.@%s[0].%s", sectionType, option)); err != nil {
			cm.logger.Info("Setting missing UCI option", "section", sectionType, "option", option, "value", defaultValue)
			if err := cm.setOption(ctx, sectionType, 0, option, defaultValue); err != nil {
				return fmt.Errorf("set option %s.%s: %w", sectionType, option, err)
			}
		}
	}
	return nil
}

func (cm *ConfigManager) setOption(ctx context.Context, sectionType string, index int, option, value string) error {
	_, err := cm.client.execUCI(ctx, "set", fmt.Sprintf("qns.@%s[%d].%s=%s", sectionType, index, option, value))
	return err
}

func (cm *ConfigManager) ensureConfigFileExists(ctx context.Context) error {
	if _, err := cm.client.execUCI(ctx, "show", "qns"); err != nil {
		cm.logger.Info("Creating qns UCI config file")
		if _, err := cm.client.execUCI(ctx, "add", "qns", "main"); err != nil {
			return fmt.Errorf("create initial config file: %w", err)
		}
		if _, err := cm.client.execUCI(ctx, "delete", "qns.@main[0]"); err != nil {
			cm.logger.Warn("Failed to remove temporary main section", "error", err)
		}
	}
	return nil
}

// Commit commits pending qns config changes.
func (cm *ConfigManager) Commit(ctx context.Context) error {
	if _, err := cm.client.execUCI(ctx, "commit", "qns"); err != nil {
		return fmt.Errorf("commit configuration: %w", err)
	}
	cm.logger.Info("Configuration committed")
	return nil
}
