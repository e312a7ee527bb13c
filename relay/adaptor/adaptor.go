// Package adaptor defines the common ProviderAdaptor contract (spec.md
// §4.D) and the request-dispatch helper every concrete adaptor package
// (kiro, codex, gemini, ...) shares, generalized from the teacher's
// relay/adaptor.Adaptor interface down to what a pure gateway needs: no
// pricing/ratio methods, since ProxyCast does no billing.
package adaptor

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/common/httpclient"
	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
)

// Adaptor translates one client-facing request format into a provider's
// wire format, dispatches it, and returns the raw upstream response for
// the stream pipeline (Component F) to decode. Every adaptor also
// implements Registerer so cmd/gateway can wire it into the credential
// pool and token cache without the pool importing any adaptor package.
type Adaptor interface {
	// Name is the channeltype.Type this adaptor serves.
	Name() string

	// BuildRequest translates the inbound body into the provider's wire
	// format and returns the fully-formed *http.Request (method, URL,
	// headers, body) ready to send, given the resolved access token.
	BuildRequest(ctx context.Context, m *meta.Meta, cred *model.Credential, accessToken string, body []byte) (*http.Request, error)

	// Do sends req using the credential's proxy (if any).
	Do(req *http.Request, cred *model.Credential) (*http.Response, error)
}

// Send performs req against the given credential's proxy, wrapping
// transport errors in apierr-compatible context.
func Send(req *http.Request, cred *model.Credential) (*http.Response, error) {
	httpClient := httpclient.Default
	if cred != nil && cred.ProxyURL != "" {
		var err error
		httpClient, err = httpclient.ForProxy(cred.ProxyURL)
		if err != nil {
			return nil, err
		}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "dispatch upstream request")
	}
	return resp, nil
}

// ReadAll drains and closes resp.Body, for non-streaming adaptor paths.
func ReadAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read upstream response body")
	}
	return data, nil
}

// Registry maps a channeltype.Type to the Adaptor that speaks its wire
// protocol. cmd/gateway populates one Registry at startup by calling
// Register once per concrete adaptor package (kiro.New(), codex.New(), ...);
// relay/router holds the Registry but never imports a concrete adaptor
// package itself, the same way credpool/tokencache avoid importing them.
type Registry struct {
	mu       sync.RWMutex
	adaptors map[channeltype.Type]Adaptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adaptors: make(map[channeltype.Type]Adaptor)}
}

// Register wires t to a. Call once per supported provider type at startup.
func (r *Registry) Register(t channeltype.Type, a Adaptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adaptors[t.Canonical()] = a
}

// Get resolves t's Adaptor, applying the anthropic/claude alias.
func (r *Registry) Get(t channeltype.Type) (Adaptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adaptors[t.Canonical()]
	if !ok {
		return nil, apierr.Configuration("no adaptor registered for type "+string(t), nil)
	}
	return a, nil
}
