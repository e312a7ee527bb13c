// Package controller holds the gateway's HTTP handlers: the client-facing
// relay endpoint and the remote-management API, following the teacher's
// controller/ package layout (one file per concern, thin handlers that
// delegate to the service packages).
package controller

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/gwconfig"
	"github.com/proxycast/gateway/model"
)

// CredentialSummary is the management-facing view of a Credential: the
// payload's secrets are never echoed back, mirroring the prior
// implementation's CredentialDisplay redaction.
type CredentialSummary struct {
	UUID             string `json:"uuid"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	IsDisabled       bool   `json:"is_disabled"`
	IsHealthy        bool   `json:"is_healthy"`
	ErrorCount       uint32 `json:"error_count"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
	UsageCount       uint64 `json:"usage_count"`
	InCooldown       bool   `json:"in_cooldown"`
	Source           string `json:"source"`
}

func toSummary(c *model.Credential) CredentialSummary {
	return CredentialSummary{
		UUID:             c.UUID,
		Name:             c.Name,
		Type:             string(c.Type),
		IsDisabled:       c.IsDisabled,
		IsHealthy:        c.IsHealthy,
		ErrorCount:       c.ErrorCount,
		LastErrorMessage: c.LastErrorMessage,
		UsageCount:       c.UsageCount,
		InCooldown:       !c.Selectable(""),
		Source:           string(c.Source),
	}
}

// ProviderOverview groups one provider type's credentials with aggregate
// counts, mirroring get_overview/PoolStats in the prior implementation's
// provider_pool_service.rs.
type ProviderOverview struct {
	ProviderType string              `json:"provider_type"`
	Total        int                 `json:"total"`
	Healthy      int                 `json:"healthy"`
	Disabled     int                 `json:"disabled"`
	Credentials  []CredentialSummary `json:"credentials"`
}

// Health is a registered Handlers method so it shares the pool/cfg it was
// constructed with; see Handlers in relay.go.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Overview lists every credential grouped by provider type (spec.md §6
// "GET /management/overview").
func (h *Handlers) Overview(c *gin.Context) {
	creds, err := h.Pool.All()
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, err)
		return
	}

	grouped := make(map[string][]*model.Credential)
	for _, cred := range creds {
		grouped[string(cred.Type)] = append(grouped[string(cred.Type)], cred)
	}

	types := make([]string, 0, len(grouped))
	for t := range grouped {
		types = append(types, t)
	}
	sort.Strings(types)

	overview := make([]ProviderOverview, 0, len(types))
	for _, t := range types {
		list := grouped[t]
		o := ProviderOverview{ProviderType: t, Total: len(list)}
		summaries := make([]CredentialSummary, 0, len(list))
		for _, cred := range list {
			if cred.IsHealthy {
				o.Healthy++
			}
			if cred.IsDisabled {
				o.Disabled++
			}
			summaries = append(summaries, toSummary(cred))
		}
		o.Credentials = summaries
		overview = append(overview, o)
	}

	c.JSON(http.StatusOK, gin.H{"providers": overview})
}

// AvailableRoute describes which provider currently serves one client-facing
// endpoint flavor (spec.md §6 "GET /management/routes").
type AvailableRoute struct {
	Endpoint string `json:"endpoint"`
	Provider string `json:"provider"`
}

// Routes reports the resolved provider for every known endpoint flavor
// given the current hot-reloadable config, mirroring
// get_available_routes in the prior implementation.
func (h *Handlers) Routes(c *gin.Context) {
	cfg := h.Cfg.Get()
	endpoints := []gwconfig.EndpointKey{
		gwconfig.EndpointCursor, gwconfig.EndpointClaudeCode, gwconfig.EndpointCodex,
		gwconfig.EndpointWindsurf, gwconfig.EndpointKiro, gwconfig.EndpointOther,
	}

	out := make([]AvailableRoute, 0, len(endpoints))
	for _, ep := range endpoints {
		provider := ""
		if bound, ok := cfg.EndpointProviders[ep]; ok && bound != "" {
			provider = bound
		} else if cfg.Routing.DefaultProvider != "" {
			provider = cfg.Routing.DefaultProvider
		}
		out = append(out, AvailableRoute{Endpoint: string(ep), Provider: provider})
	}

	c.JSON(http.StatusOK, gin.H{"routes": out})
}

// Models lists every model name configured across all providers (spec.md
// §6 "GET /v1/models"), in the flattened {id, owned_by} shape OpenAI-
// compatible clients expect.
func (h *Handlers) Models(c *gin.Context) {
	cfg := h.Cfg.Get()
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	var out []modelEntry
	seen := map[string]bool{}
	for providerKey, pm := range cfg.Models.Providers {
		for _, m := range pm.Models {
			if seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			out = append(out, modelEntry{ID: m.Name, Object: "model", OwnedBy: providerKey})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	c.JSON(http.StatusOK, gin.H{"object": "list", "data": out})
}
