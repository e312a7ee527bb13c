package model

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/proxycast/gateway/relay/channeltype"
)

// Source records whether a Credential was created explicitly through the
// management UI/API (Public) or migrated from the legacy singleton
// provider config (Private). See spec.md §3 "Credential" Provenance.
type Source string

const (
	SourcePublic  Source = "public"
	SourcePrivate Source = "private"
)

// Payload is the tagged-union credential body (spec.md §3). Exactly one of
// the two shapes below is populated, selected by Kind. It is persisted as a
// single JSON column rather than exploded into nullable GORM fields, mirroring
// the teacher's Channel.Config free-form JSON blob plus typed accessors.
type Payload struct {
	Kind string `json:"kind"`

	// OAuth-file-based credentials (Kiro, Gemini, Qwen, Antigravity, Codex,
	// ClaudeOAuth, iFlow).
	CredsFilePath string `json:"creds_file_path,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
	APIBaseURL    string `json:"api_base_url,omitempty"`

	// Static API-key credentials (OpenAIKey, ClaudeKey, GeminiAPIKey, Vertex).
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// Credential is the central entity of the gateway: one authenticated route
// to a single upstream provider account. Renamed from the teacher's Channel;
// Type/Payload/disposition fields replace one-api's per-request-pricing
// channel row with the spec's health/selection-oriented shape.
type Credential struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	UUID string `json:"uuid" gorm:"uniqueIndex;size:36"`
	Name string `json:"name" gorm:"size:255"`

	Type channeltype.Type `json:"type" gorm:"size:32;index"`

	PayloadJSON string `json:"-" gorm:"column:payload;type:text"`

	IsDisabled       bool       `json:"is_disabled" gorm:"default:false"`
	IsHealthy        bool       `json:"is_healthy" gorm:"default:true"`
	ErrorCount       uint32     `json:"error_count" gorm:"default:0"`
	LastErrorMessage string     `json:"last_error_message" gorm:"type:text"`
	LastErrorTime    *time.Time `json:"last_error_time"`
	LastUsed         *time.Time `json:"last_used"`
	UsageCount       uint64     `json:"usage_count" gorm:"default:0"`

	CheckHealth         bool   `json:"check_health" gorm:"default:true"`
	CheckModelName       string `json:"check_model_name" gorm:"size:255"`
	NotSupportedModelsCSV string `json:"-" gorm:"column:not_supported_models;type:text"`

	ProxyURL string `json:"proxy_url" gorm:"size:512"`

	// CooldownUntil is set by a quota_exceeded response (spec.md §10
	// "Quota-exceeded cooldown with project auto-switch") and excludes this
	// credential from selection until it passes, without touching
	// IsHealthy/ErrorCount — a cooldown is expected to clear on its own.
	CooldownUntil *time.Time `json:"cooldown_until"`

	Source Source `json:"source" gorm:"size:16;default:'public'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Payload decodes the stored JSON payload.
func (c *Credential) Payload() (Payload, error) {
	var p Payload
	if c.PayloadJSON == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(c.PayloadJSON), &p); err != nil {
		return p, errors.Wrap(err, "unmarshal credential payload")
	}
	return p, nil
}

// SetPayload encodes and stores p as the credential's payload.
func (c *Credential) SetPayload(p Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal credential payload")
	}
	c.PayloadJSON = string(b)
	return nil
}

// NotSupportedModels decodes the CSV list of model names this credential
// is known to reject (spec.md §3 Invariant I2).
func (c *Credential) NotSupportedModels() []string {
	return splitCSV(c.NotSupportedModelsCSV)
}

// SetNotSupportedModels encodes models as the stored CSV list.
func (c *Credential) SetNotSupportedModels(models []string) {
	c.NotSupportedModelsCSV = joinCSV(models)
}

// Selectable reports whether this credential may currently be chosen by the
// pool for the given model (spec.md §3 Invariant I2).
func (c *Credential) Selectable(model string) bool {
	if c.IsDisabled || !c.IsHealthy {
		return false
	}
	if c.CooldownUntil != nil && time.Now().Before(*c.CooldownUntil) {
		return false
	}
	if model == "" {
		return true
	}
	for _, m := range c.NotSupportedModels() {
		if m == model {
			return false
		}
	}
	return true
}

// BeforeCreate assigns a UUID if the caller did not supply one.
func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func joinCSV(items []string) string {
	out := ""
	for i, it := range items {
		if it == "" {
			continue
		}
		if i > 0 && out != "" {
			out += ","
		}
		out += it
	}
	return out
}
