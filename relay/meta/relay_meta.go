// Package meta carries the per-request routing context that the
// EndpointRouter (spec.md §4.E) builds once and every downstream adaptor
// call reads, mirroring the teacher's relay/meta.Meta: one struct cached on
// the gin.Context for the lifetime of a request, rebuilt on each provider
// switch during a retry.
package meta

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/common/ctxkey"
	"github.com/proxycast/gateway/relay/channeltype"
)

// Meta is the aggregated routing context for one inbound request.
type Meta struct {
	// EndpointKey is the client-facing endpoint flavor this request arrived
	// on (cursor, claude_code, codex, windsurf, kiro, other).
	EndpointKey string

	// ProviderType is the resolved provider for this request, chosen by
	// EndpointProvidersConfig, RoutingConfig rules, or the default provider.
	ProviderType channeltype.Type

	// CredentialUUID is the credential.Pool entry selected to serve this
	// request; empty until EndpointRouter.SelectCredential runs.
	CredentialUUID string

	// RequestModel is the model name exactly as the client sent it.
	RequestModel string

	// EffectiveModel is RequestModel after RoutingConfig.ModelAliases
	// rewriting; this is what gets forwarded upstream.
	EffectiveModel string

	// IsStream reports whether the client asked for a streamed response.
	IsStream bool

	// BaseURL is the upstream base URL, either the credential's own
	// override (key-based adaptors) or the provider's fixed endpoint.
	BaseURL string

	// RetryCount is how many provider switches this request has already
	// gone through; EndpointRouter increments it on each retry.
	RetryCount int

	// RequestURLPath is the raw inbound path, used for endpoint detection
	// and logging.
	RequestURLPath string

	StartTime time.Time
}

// GetMappedModelName resolves a model name through RoutingConfig's alias
// table, returning the original name unchanged when no alias matches.
func GetMappedModelName(modelName string, aliases map[string]string) string {
	if aliases == nil {
		return modelName
	}
	if mapped, ok := aliases[modelName]; ok && mapped != "" {
		return mapped
	}
	return modelName
}

// GetByContext returns the Meta cached on c, rebuilding RetryCount-aware
// state when CredentialId in the context no longer matches what the cached
// Meta last saw — the same "has a retry swapped providers" check the
// teacher's GetByContext performs via ctxkey.ChannelId.
func GetByContext(c *gin.Context) *Meta {
	if v, ok := c.Get(ctxkey.Meta); ok {
		existing := v.(*Meta)
		currentCredential := c.GetString(ctxkey.CredentialId)
		if currentCredential != "" && existing.CredentialUUID != currentCredential {
			existing.CredentialUUID = currentCredential
			existing.ProviderType, _ = channeltype.Parse(c.GetString(ctxkey.ProviderType))
			existing.RetryCount++
			Set2Context(c, existing)
		}
		return existing
	}

	providerType, _ := channeltype.Parse(c.GetString(ctxkey.ProviderType))
	m := &Meta{
		EndpointKey:      c.GetString(ctxkey.EndpointKey),
		ProviderType:     providerType,
		CredentialUUID:   c.GetString(ctxkey.CredentialId),
		RequestModel:     c.GetString(ctxkey.RequestModel),
		EffectiveModel:   c.GetString(ctxkey.EffectiveModel),
		RequestURLPath:   c.Request.URL.String(),
		StartTime:        time.Now(),
	}
	if m.EffectiveModel == "" {
		m.EffectiveModel = m.RequestModel
	}
	Set2Context(c, m)
	return m
}

// Set2Context stores m on c for later retrieval by GetByContext.
func Set2Context(c *gin.Context, m *Meta) {
	c.Set(ctxkey.Meta, m)
}

// EnsureEffectiveModel backfills EffectiveModel/RequestModel once a
// downstream adaptor has parsed the request body and discovered the
// client's actual model selection, mirroring the teacher's
// EnsureActualModelName.
func (m *Meta) EnsureEffectiveModel(fallback string, aliases map[string]string) {
	if m == nil {
		return
	}
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return
	}
	if strings.TrimSpace(m.RequestModel) == "" {
		m.RequestModel = fallback
	}
	if strings.TrimSpace(m.EffectiveModel) != "" {
		return
	}
	mapped := GetMappedModelName(fallback, aliases)
	if strings.TrimSpace(mapped) == "" {
		mapped = fallback
	}
	m.EffectiveModel = mapped
}
