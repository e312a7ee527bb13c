package credpool

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/proxycast/gateway/common/config"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/model"
)

// Prober issues one lightweight upstream request to confirm a credential
// still authenticates and responds. Each provider adaptor registers its own
// Prober at startup (spec.md §4.B "health-probe config"); credpool stays
// adaptor-agnostic to avoid an import cycle (adaptors depend on credpool's
// Pool to read/refresh tokens, not the other way around).
type Prober func(ctx context.Context, c *model.Credential) error

// RegisterProbe wires t's health-check implementation. Call once per
// supported provider type during gateway startup.
func (p *Pool) RegisterProbe(t channeltype.Type, fn Prober) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.probers == nil {
		p.probers = make(map[channeltype.Type]Prober)
	}
	p.probers[t.Canonical()] = fn
}

// CheckCredentialHealth probes one credential, bounded by
// config.HealthProbeTimeout, and updates its health state accordingly.
// check_health=false short-circuits to success without an upstream call
// (spec.md §3 Invariant I4).
func (p *Pool) CheckCredentialHealth(ctx context.Context, uuid string) error {
	var c model.Credential
	if err := p.db.Where("uuid = ?", uuid).First(&c).Error; err != nil {
		return errors.Wrap(err, "load credential")
	}
	if !c.CheckHealth {
		return nil
	}

	prober := p.proberFor(c.Type)
	if prober == nil {
		return apierr.Configuration("no health prober registered for type "+string(c.Type), nil)
	}

	probeCtx, cancel := context.WithTimeout(ctx, config.HealthProbeTimeout)
	defer cancel()

	err := prober(probeCtx, &c)
	if err == nil {
		return p.MarkHealthy(uuid)
	}

	if apiErr, ok := apierr.As(err); ok {
		return p.MarkUnhealthyWithDetails(uuid, apiErr)
	}
	return p.MarkUnhealthy(uuid, err.Error())
}

// CheckTypeHealth probes every credential of the given type, best-effort
// (a single credential's probe failure doesn't stop the others).
func (p *Pool) CheckTypeHealth(ctx context.Context, t channeltype.Type) error {
	creds, err := p.byType(t)
	if err != nil {
		return err
	}
	var firstErr error
	for _, c := range creds {
		if err := p.CheckCredentialHealth(ctx, c.UUID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) proberFor(t channeltype.Type) Prober {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probers[t.Canonical()]
}

// probeBackoff is consulted by background health-sweep loops (wired in
// cmd/gateway) between full pool sweeps.
const probeBackoff = 5 * time.Minute
