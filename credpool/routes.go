package credpool

import (
	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/model"
)

// Route describes one callable base URL this gateway currently exposes
// (spec.md §10 "SUPPLEMENTED FEATURES" — get_available_routes). Clients use
// it to discover both the round-robin "/<provider>" routes and any
// specifically-named single-credential routes.
type Route struct {
	Name            string   `json:"name"`
	ProviderType    string   `json:"provider_type"`
	CredentialCount int      `json:"credential_count"`
	Enabled         bool     `json:"enabled"`
	Endpoints       []string `json:"endpoints"`
	Tags            []string `json:"tags"`
}

// AvailableRoutes lists every currently-usable route, grouped by provider
// type (round-robin across all its credentials) plus one entry per
// user-named credential for pinned routing.
func (p *Pool) AvailableRoutes(baseURL string) ([]Route, error) {
	var creds []*model.Credential
	if err := p.db.Find(&creds).Error; err != nil {
		return nil, errors.Wrap(err, "load credentials")
	}

	byType := make(map[string][]*model.Credential)
	for _, c := range creds {
		byType[string(c.Type)] = append(byType[string(c.Type)], c)
	}

	var routes []Route
	for providerType, group := range byType {
		available := 0
		for _, c := range group {
			if c.Selectable("") {
				available++
			}
		}
		if available == 0 {
			continue
		}
		routes = append(routes, Route{
			Name:            providerType,
			ProviderType:    providerType,
			CredentialCount: available,
			Enabled:         true,
			Endpoints:       []string{baseURL + "/v1/messages", baseURL + "/v1/chat/completions"},
			Tags:            []string{"round_robin"},
		})
	}

	for _, c := range creds {
		if c.Name == "" || !c.Selectable("") {
			continue
		}
		routes = append(routes, Route{
			Name:            c.Name,
			ProviderType:    string(c.Type),
			CredentialCount: 1,
			Enabled:         !c.IsDisabled,
			Endpoints:       []string{baseURL + "/v1/messages", baseURL + "/v1/chat/completions"},
			Tags:            []string{"pinned_credential"},
		})
	}

	return routes, nil
}
