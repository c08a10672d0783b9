// Package typ holds the domain types shared across the gateway: provider,
// model and composite records plus the typed system settings.
package typ

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Format identifies the upstream provider family a record speaks.
type Format string

const (
	FormatReasoner  Format = "reasoner"
	FormatAnthropic Format = "anthropic"
	FormatOpenAI    Format = "openai"
)

// Valid reports whether f is a known provider family.
func (f Format) Valid() bool {
	switch f {
	case FormatReasoner, FormatAnthropic, FormatOpenAI:
		return true
	}
	return false
}

// ModelType distinguishes reasoning-capable models from general ones.
type ModelType string

const (
	ModelTypeReasoner ModelType = "reasoner"
	ModelTypeGeneral  ModelType = "general"
)

// Provider is an upstream endpoint plus its credentials. A provider record is
// immutable during a single request's lifetime: it is read once at dispatch.
type Provider struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url"`
	RequestPath  string `json:"request_path"`
	Format       Format `json:"format"`
	ProxyEnabled bool   `json:"proxy_enabled"`
	Valid        bool   `json:"valid"`
}

// Model names an upstream model reachable through a provider.
// OriginReasoning means the upstream emits a distinct reasoning field;
// otherwise reasoning is inlined as <think>...</think> in the content stream.
// OriginOutput bypasses normalization and streams upstream bytes verbatim.
type Model struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ModelID         string    `json:"model_id"`
	ProviderID      string    `json:"provider_id"`
	Type            ModelType `json:"type"`
	Format          Format    `json:"format"`
	OriginReasoning bool      `json:"origin_reasoning"`
	OriginOutput    bool      `json:"origin_output"`
	Valid           bool      `json:"valid"`
}

// CompositeModel pairs a reasoning model with a target model.
type CompositeModel struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ReasonerModelID string `json:"reasoner_model_id"`
	GeneralModelID  string `json:"general_model_id"`
	Valid           bool   `json:"valid"`
}

// SettingType is the declared type of a system setting value.
type SettingType string

const (
	SettingStr   SettingType = "str"
	SettingInt   SettingType = "int"
	SettingFloat SettingType = "float"
	SettingBool  SettingType = "bool"
	SettingJSON  SettingType = "json"
)

// SystemSetting is a typed key/value pair from the system_settings table.
type SystemSetting struct {
	Key   string      `json:"setting_key"`
	Value string      `json:"setting_value"`
	Type  SettingType `json:"setting_type"`
}

// Int returns the setting parsed as an integer, or def when unset or invalid.
func (s SystemSetting) Int(def int) int {
	if s.Value == "" {
		return def
	}
	v, err := strconv.Atoi(s.Value)
	if err != nil {
		return def
	}
	return v
}

// Float returns the setting parsed as a float, or def.
func (s SystemSetting) Float(def float64) float64 {
	if s.Value == "" {
		return def
	}
	v, err := strconv.ParseFloat(s.Value, 64)
	if err != nil {
		return def
	}
	return v
}

// Bool returns the setting parsed as a boolean, or def.
func (s SystemSetting) Bool(def bool) bool {
	switch s.Value {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

// Str returns the raw string value, or def when unset.
func (s SystemSetting) Str(def string) string {
	if s.Value == "" {
		return def
	}
	return s.Value
}

// NewSetting builds a SystemSetting from a Go value, deriving the type tag
// the way the settings table stores it.
func NewSetting(key string, value any) (SystemSetting, error) {
	s := SystemSetting{Key: key}
	switch v := value.(type) {
	case string:
		s.Type = SettingStr
		s.Value = v
	case bool:
		s.Type = SettingBool
		s.Value = strconv.FormatBool(v)
	case int:
		s.Type = SettingInt
		s.Value = strconv.Itoa(v)
	case int64:
		s.Type = SettingInt
		s.Value = strconv.FormatInt(v, 10)
	case float64:
		s.Type = SettingFloat
		s.Value = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return s, fmt.Errorf("unsupported setting value for %q: %w", key, err)
		}
		s.Type = SettingJSON
		s.Value = string(raw)
	}
	return s, nil
}

// Settings is a per-request snapshot of the system settings, keyed by name.
type Settings map[string]SystemSetting

// Get returns the named setting; the zero value decodes to defaults.
func (s Settings) Get(key string) SystemSetting {
	return s[key]
}

// Well-known system setting keys.
const (
	SettingAPIKey              = "api_key"
	SettingProxyAddress        = "proxy_address"
	SettingLogLevel            = "log_level"
	SettingTCPConnectorLimit   = "tcp_connector_limit"
	SettingTCPConnectorPerHost = "tcp_connector_limit_per_host"
	SettingTCPKeepaliveTimeout = "tcp_keepalive_timeout"
)
