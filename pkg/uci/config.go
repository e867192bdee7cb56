package uci

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the qnsd daemon's ambient configuration, loaded from the UCI
// "qns" package (config file /etc/config/qns). It governs the daemon
// itself — logging, listeners, persistence, the carrier-config search path
// — not per-carrier thresholds or handover rules, which live under
// pkg/policy's two-layer lookup (asset defaults + carrier overrides read
// from this same UCI tree's "carrier" sections).
type Config struct {
	Enable             bool   `json:"enable"`
	LogLevel           string `json:"log_level"`
	LogFile            string `json:"log_file"`
	LogFormat          string `json:"log_format"` // text|json

	DecisionQueueSize  int `json:"decision_queue_size"`
	DebounceDefaultMS  int `json:"debounce_default_ms"`

	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`
	HealthListener  bool `json:"health_listener"`
	HealthPort      int  `json:"health_port"`

	APIListener bool   `json:"api_listener"`
	APIPort     int    `json:"api_port"`
	APIReadOnly bool   `json:"api_read_only"`

	MQTTEnabled     bool   `json:"mqtt_enabled"`
	MQTTBroker      string `json:"mqtt_broker"`
	MQTTPort        int    `json:"mqtt_port"`
	MQTTClientID    string `json:"mqtt_client_id"`
	MQTTUsername    string `json:"mqtt_username"`
	MQTTPassword    string `json:"mqtt_password"`
	MQTTTopicPrefix string `json:"mqtt_topic_prefix"`
	MQTTQoS         int    `json:"mqtt_qos"`

	AuditEnabled   bool   `json:"audit_enabled"`
	AuditLogPath   string `json:"audit_log_path"`
	AuditCSVPath   string `json:"audit_csv_path"`

	TelemRetentionHours int    `json:"telem_retention_hours"`
	TelemDBPath         string `json:"telem_db_path"`

	PolicyAssetDir   string   `json:"policy_asset_dir"`
	CarrierOverrides []string `json:"carrier_overrides"` // UCI section names, e.g. "carrier_310260"

	// WLANInterface is the Wi-Fi interface policy 9's RTT backhaul check
	// probes through when a slot's IMS registration is on WLAN.
	WLANInterface string `json:"wlan_interface"`

	// Sections, populated from "carrier" UCI sections; each holds only the
	// raw option=value pairs, left for pkg/policy to type and layer.
	Carriers map[string]map[string]string `json:"-"`
}

func setDefaults(c *Config) {
	c.Enable = true
	c.LogLevel = "info"
	c.LogFile = "/var/log/qnsd.log"
	c.LogFormat = "text"
	c.DecisionQueueSize = 256
	c.DebounceDefaultMS = 2000
	c.MetricsListener = true
	c.MetricsPort = 9123
	c.HealthListener = true
	c.HealthPort = 9124
	c.APIListener = true
	c.APIPort = 9125
	c.APIReadOnly = true
	c.MQTTEnabled = false
	c.MQTTBroker = "localhost"
	c.MQTTPort = 1883
	c.MQTTClientID = "qnsd"
	c.MQTTTopicPrefix = "qns"
	c.MQTTQoS = 1
	c.AuditEnabled = true
	c.AuditLogPath = "/var/log/qnsd-audit.log"
	c.AuditCSVPath = "/var/log/qnsd-audit.csv"
	c.TelemRetentionHours = 24
	c.TelemDBPath = "/var/lib/qnsd/telem.db"
	c.PolicyAssetDir = "/etc/qns/policy"
	c.WLANInterface = "wlan0"
	c.Carriers = make(map[string]map[string]string)
}

// LoadConfig loads the daemon config from a UCI config file path (usually
// /etc/config/qns). A missing file yields defaults, matching the teacher's
// first-run behavior.
func LoadConfig(path string) (*Config, error) {
	c := &Config{}
	setDefaults(c)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c, nil
	}
	if err := c.parseUCI(path); err != nil {
		return nil, fmt.Errorf("parse uci config %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// parseUCI reads a simplified "config <type> '<name>'" / "option k 'v'" /
// "list k 'v'" UCI file, in the same line-oriented way the teacher's
// uci.go shells out to `uci show` and parses, but reading the file
// directly (no native UCI binary is assumed present off-router).
func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sectionType, sectionName string
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "config "):
			fields := splitQuoted(line[len("config "):])
			sectionType = fields[0]
			if len(fields) > 1 {
				sectionName = fields[1]
			} else {
				sectionName = ""
			}
		case strings.HasPrefix(line, "option "):
			fields := splitQuoted(line[len("option "):])
			if len(fields) >= 2 {
				c.parseOption(sectionType, sectionName, fields[0], fields[1])
			}
		case strings.HasPrefix(line, "list "):
			fields := splitQuoted(line[len("list "):])
			if len(fields) >= 2 && sectionType == "main" && fields[0] == "carrier_override" {
				c.CarrierOverrides = append(c.CarrierOverrides, fields[1])
			}
		}
	}
	return nil
}

func splitQuoted(s string) []string {
	s = strings.TrimSpace(s)
	var out []string
	for len(s) > 0 {
		if s[0] == '\'' || s[0] == '"' {
			q := s[0]
			end := strings.IndexByte(s[1:], q)
			if end < 0 {
				out = append(out, s[1:])
				break
			}
			out = append(out, s[1:1+end])
			s = strings.TrimSpace(s[2+end:])
			continue
		}
		sp := strings.IndexByte(s, ' ')
		if sp < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:sp])
		s = strings.TrimSpace(s[sp:])
	}
	return out
}

func (c *Config) parseOption(sectionType, sectionName, option, value string) {
	switch sectionType {
	case "main":
		c.parseMainOption(option, value)
	case "carrier":
		if c.Carriers == nil {
			c.Carriers = make(map[string]map[string]string)
		}
		if c.Carriers[sectionName] == nil {
			c.Carriers[sectionName] = make(map[string]string)
		}
		c.Carriers[sectionName][option] = value
	}
}

func (c *Config) parseMainOption(option, value string) {
	switch option {
	case "enable":
		c.Enable = value == "1" || value == "true"
	case "log_level":
		c.LogLevel = value
	case "log_file":
		c.LogFile = value
	case "log_format":
		c.LogFormat = value
	case "decision_queue_size":
		if n, err := strconv.Atoi(value); err == nil {
			c.DecisionQueueSize = n
		}
	case "debounce_default_ms":
		if n, err := strconv.Atoi(value); err == nil {
			c.DebounceDefaultMS = n
		}
	case "metrics_listener":
		c.MetricsListener = value == "1" || value == "true"
	case "metrics_port":
		if n, err := strconv.Atoi(value); err == nil {
			c.MetricsPort = n
		}
	case "health_listener":
		c.HealthListener = value == "1" || value == "true"
	case "health_port":
		if n, err := strconv.Atoi(value); err == nil {
			c.HealthPort = n
		}
	case "api_listener":
		c.APIListener = value == "1" || value == "true"
	case "api_port":
		if n, err := strconv.Atoi(value); err == nil {
			c.APIPort = n
		}
	case "api_read_only":
		c.APIReadOnly = value == "1" || value == "true"
	case "mqtt_enabled":
		c.MQTTEnabled = value == "1" || value == "true"
	case "mqtt_broker":
		c.MQTTBroker = value
	case "mqtt_port":
		if n, err := strconv.Atoi(value); err == nil {
			c.MQTTPort = n
		}
	case "mqtt_client_id":
		c.MQTTClientID = value
	case "mqtt_username":
		c.MQTTUsername = value
	case "mqtt_password":
		c.MQTTPassword = value
	case "mqtt_topic_prefix":
		c.MQTTTopicPrefix = value
	case "mqtt_qos":
		if n, err := strconv.Atoi(value); err == nil {
			c.MQTTQoS = n
		}
	case "audit_enabled":
		c.AuditEnabled = value == "1" || value == "true"
	case "audit_log_path":
		c.AuditLogPath = value
	case "audit_csv_path":
		c.AuditCSVPath = value
	case "telem_retention_hours":
		if n, err := strconv.Atoi(value); err == nil {
			c.TelemRetentionHours = n
		}
	case "telem_db_path":
		c.TelemDBPath = value
	case "policy_asset_dir":
		c.PolicyAssetDir = value
	case "wlan_interface":
		c.WLANInterface = value
	}
}

func (c *Config) validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.MetricsPort == c.HealthPort {
		return fmt.Errorf("metrics_port and health_port must differ")
	}
	if c.DecisionQueueSize <= 0 {
		return fmt.Errorf("decision_queue_size must be positive")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error":
		return true
	}
	return false
}
