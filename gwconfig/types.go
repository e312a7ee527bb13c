// Package gwconfig owns Component A (spec.md §4.A): the hot-reloadable
// Config aggregate, its on-disk YAML representation, and the priority-
// ordered observer bus that fans out each change. It is deliberately
// separate from common/config, which only holds process-wide ambient
// settings read once at startup.
package gwconfig

// RoutingRule is one entry of RoutingConfig's ordered rule list (spec.md §3
// "RoutingConfig"). Smaller Priority wins; ties broken by list order.
type RoutingRule struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Provider string `yaml:"provider" json:"provider"`
	Priority int    `yaml:"priority" json:"priority"`
}

// RoutingConfig picks which provider serves each incoming model name.
type RoutingConfig struct {
	DefaultProvider string            `yaml:"default_provider" json:"default_provider"`
	Rules           []RoutingRule     `yaml:"rules" json:"rules"`
	ModelAliases    map[string]string `yaml:"model_aliases" json:"model_aliases"`
	Exclusions      map[string][]string `yaml:"exclusions" json:"exclusions"`
}

// EndpointKey is the closed set of client-facing endpoint flavors (spec.md
// §3 "EndpointProvidersConfig").
type EndpointKey string

const (
	EndpointCursor     EndpointKey = "cursor"
	EndpointClaudeCode EndpointKey = "claude_code"
	EndpointCodex      EndpointKey = "codex"
	EndpointWindsurf   EndpointKey = "windsurf"
	EndpointKiro       EndpointKey = "kiro"
	EndpointOther      EndpointKey = "other"
)

// EndpointProvidersConfig binds an endpoint flavor directly to a provider,
// overriding the routing rule table when set.
type EndpointProvidersConfig map[EndpointKey]string

// ServerConfig is the gateway's own listen address and client auth key.
type ServerConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	APIKey string `yaml:"api_key" json:"api_key"`
}

// InjectionRule rewrites or adds content into outgoing requests before
// dispatch (system prompt injection, header overrides, ...).
type InjectionRule struct {
	Name    string `yaml:"name" json:"name"`
	Match   string `yaml:"match" json:"match"`
	Content string `yaml:"content" json:"content"`
}

type InjectionConfig struct {
	Enabled bool            `yaml:"enabled" json:"enabled"`
	Rules   []InjectionRule `yaml:"rules" json:"rules"`
}

type RetryConfig struct {
	MaxRetries        int  `yaml:"max_retries" json:"max_retries"`
	BaseDelayMs       int  `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs        int  `yaml:"max_delay_ms" json:"max_delay_ms"`
	AutoSwitchProvider bool `yaml:"auto_switch_provider" json:"auto_switch_provider"`
}

type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
}

type ModelEntry struct {
	ID      string `yaml:"id" json:"id"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type ProviderModels struct {
	Label  string       `yaml:"label" json:"label"`
	Models []ModelEntry `yaml:"models" json:"models"`
}

type ModelsConfig struct {
	Providers map[string]ProviderModels `yaml:"providers" json:"providers"`
}

type RemoteManagementConfig struct {
	AllowRemote         bool   `yaml:"allow_remote" json:"allow_remote"`
	SecretKey           string `yaml:"secret_key" json:"secret_key"`
	DisableControlPanel bool   `yaml:"disable_control_panel" json:"disable_control_panel"`
}

type QuotaExceededConfig struct {
	SwitchProject   bool `yaml:"switch_project" json:"switch_project"`
	CooldownSeconds int  `yaml:"cooldown_seconds" json:"cooldown_seconds"`
}

// AmpcodeConfig is carried unchanged from spec.md §3 ("ampcode" field) —
// settings specific to the Amp-code agent endpoint flavor.
type AmpcodeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Config is the full hot-reloadable aggregate (spec.md §3 "Config"). Every
// field has a typed default, applied by Default().
type Config struct {
	Server             ServerConfig            `yaml:"server" json:"server"`
	Routing            RoutingConfig           `yaml:"routing" json:"routing"`
	EndpointProviders  EndpointProvidersConfig  `yaml:"endpoint_providers" json:"endpoint_providers"`
	Injection          InjectionConfig         `yaml:"injection" json:"injection"`
	Retry              RetryConfig             `yaml:"retry" json:"retry"`
	Logging            LoggingConfig           `yaml:"logging" json:"logging"`
	Models             ModelsConfig            `yaml:"models" json:"models"`
	RemoteManagement   RemoteManagementConfig  `yaml:"remote_management" json:"remote_management"`
	QuotaExceeded      QuotaExceededConfig     `yaml:"quota_exceeded" json:"quota_exceeded"`
	Ampcode            AmpcodeConfig           `yaml:"ampcode" json:"ampcode"`
	ProxyURL           string                  `yaml:"proxy_url" json:"proxy_url"`
}

// Default returns the typed-default Config loaded when no config.yaml
// exists yet (spec.md §3 "Every field has a typed default").
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8317},
		Routing: RoutingConfig{
			DefaultProvider: "",
			ModelAliases:    map[string]string{},
			Exclusions:      map[string][]string{},
		},
		EndpointProviders: EndpointProvidersConfig{},
		Injection:         InjectionConfig{Enabled: false},
		Retry: RetryConfig{
			MaxRetries:         3,
			BaseDelayMs:        500,
			MaxDelayMs:         10000,
			AutoSwitchProvider: true,
		},
		Logging: LoggingConfig{Level: "info", RetentionDays: 7},
		Models:  ModelsConfig{Providers: map[string]ProviderModels{}},
		RemoteManagement: RemoteManagementConfig{
			AllowRemote:         false,
			DisableControlPanel: false,
		},
		QuotaExceeded: QuotaExceededConfig{SwitchProject: true, CooldownSeconds: 300},
	}
}

// Clone returns a deep-enough copy for safe concurrent hand-off (nested
// maps/slices are themselves copied so the old and new Config never alias
// mutable state — the atomic-swap contract the Store relies on).
func (c Config) Clone() Config {
	clone := c
	clone.Routing.Rules = append([]RoutingRule(nil), c.Routing.Rules...)
	clone.Routing.ModelAliases = cloneStringMap(c.Routing.ModelAliases)
	clone.Routing.Exclusions = make(map[string][]string, len(c.Routing.Exclusions))
	for k, v := range c.Routing.Exclusions {
		clone.Routing.Exclusions[k] = append([]string(nil), v...)
	}
	clone.EndpointProviders = make(EndpointProvidersConfig, len(c.EndpointProviders))
	for k, v := range c.EndpointProviders {
		clone.EndpointProviders[k] = v
	}
	clone.Injection.Rules = append([]InjectionRule(nil), c.Injection.Rules...)
	clone.Models.Providers = make(map[string]ProviderModels, len(c.Models.Providers))
	for k, v := range c.Models.Providers {
		clone.Models.Providers[k] = v
	}
	return clone
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
