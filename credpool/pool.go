// Package credpool implements Component B (spec.md §4.B): the in-process
// credential pool backed by model.Credential rows — CRUD, scored selection,
// round-robin selection, and health-state transitions. Grounded on the
// teacher's model.Channel CRUD style (model/channel.go) and ported
// behaviorally from the prior implementation's ProviderPoolService.
package credpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/gorm"

	"github.com/proxycast/gateway/common/config"
	"github.com/proxycast/gateway/common/logger"
	"github.com/proxycast/gateway/common/mysqldsn"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/model"
)

// Pool is the credential store + selection engine. One Pool per process,
// backed directly by model.DB; round-robin position is kept in memory only
// (spec.md §5: restart resets fairness, which is acceptable per I5).
type Pool struct {
	db *gorm.DB

	mu        sync.Mutex
	rrCounter map[channeltype.Type]*atomic.Uint64
	probers   map[channeltype.Type]Prober
}

// New creates a pool over db (normally model.DB).
func New(db *gorm.DB) *Pool {
	return &Pool{db: db, rrCounter: make(map[channeltype.Type]*atomic.Uint64)}
}

// Add persists a new credential, assigning it a uuid if absent.
func (p *Pool) Add(c *model.Credential) error {
	if !c.Type.Valid() {
		return apierr.Validation("unknown credential type: " + string(c.Type))
	}
	if err := p.db.Create(c).Error; err != nil {
		return classifyDBError(err, "insert credential")
	}
	return nil
}

// Update persists changes to an existing credential (full-row save).
func (p *Pool) Update(c *model.Credential) error {
	if err := p.db.Save(c).Error; err != nil {
		return classifyDBError(err, "update credential")
	}
	return nil
}

// classifyDBError turns a MySQL duplicate-key (uuid collision) or
// data-too-long (Name/LastErrorMessage overflow) error into a
// apierr.Validation with a message an operator can act on, mirroring the
// teacher's model.isMySQLDataTooLongErr classification in model/channel.go.
// On SQLite/Postgres (or any other failure) it falls back to a plain wrap.
func classifyDBError(err error, op string) error {
	switch {
	case mysqldsn.IsDuplicateKeyErr(err):
		return apierr.Validation("credential uuid already exists: " + err.Error())
	case mysqldsn.IsDataTooLongErr(err):
		return apierr.Validation("credential field exceeds column length: " + err.Error())
	default:
		return errors.Wrap(err, op)
	}
}

// Delete removes a credential by uuid.
func (p *Pool) Delete(uuid string) error {
	if err := p.db.Where("uuid = ?", uuid).Delete(&model.Credential{}).Error; err != nil {
		return errors.Wrap(err, "delete credential")
	}
	return nil
}

// Toggle flips is_disabled for a credential.
func (p *Pool) Toggle(uuid string, disabled bool) error {
	return p.db.Model(&model.Credential{}).Where("uuid = ?", uuid).
		Update("is_disabled", disabled).Error
}

// ResetCounters zeroes usage_count and error_count and flips is_healthy back
// on, for manual recovery via the management UI.
func (p *Pool) ResetCounters(uuid string) error {
	return p.db.Model(&model.Credential{}).Where("uuid = ?", uuid).Updates(map[string]any{
		"usage_count": 0,
		"error_count": 0,
		"is_healthy":  true,
	}).Error
}

// ResetHealthByType marks every credential of the given type healthy again.
func (p *Pool) ResetHealthByType(t channeltype.Type) error {
	return p.db.Model(&model.Credential{}).Where("type = ?", string(t.Canonical())).Updates(map[string]any{
		"error_count": 0,
		"is_healthy":  true,
	}).Error
}

// byType loads every credential for t, aliasing Anthropic<->Claude per
// spec.md §9's Open Question (decided: both share one pool since both speak
// the Anthropic Messages API — see DESIGN.md).
func (p *Pool) byType(t channeltype.Type) ([]*model.Credential, error) {
	t = t.Canonical()
	types := []string{string(t)}
	if t == channeltype.ClaudeKey {
		types = append(types, string(channeltype.ClaudeOAuth))
	}

	var creds []*model.Credential
	if err := p.db.Where("type IN ?", types).Find(&creds).Error; err != nil {
		return nil, errors.Wrap(err, "load credentials by type")
	}
	return creds, nil
}

// ListByType exposes byType for the management controller's per-provider
// credential listing (spec.md §6 management API).
func (p *Pool) ListByType(t channeltype.Type) ([]*model.Credential, error) {
	return p.byType(t)
}

// All loads every credential across every provider type, for the pool
// overview endpoint.
func (p *Pool) All() ([]*model.Credential, error) {
	var creds []*model.Credential
	if err := p.db.Order("type, name").Find(&creds).Error; err != nil {
		return nil, errors.Wrap(err, "load all credentials")
	}
	return creds, nil
}

// Get loads a single credential by uuid.
func (p *Pool) Get(uuid string) (*model.Credential, error) {
	var c model.Credential
	if err := p.db.Where("uuid = ?", uuid).First(&c).Error; err != nil {
		return nil, errors.Wrap(err, "load credential")
	}
	return &c, nil
}

// Select scores every available (selectable, model-supporting) credential of
// the given type and returns the best one (spec.md §4.B, §3 Invariant I2).
func (p *Pool) Select(t channeltype.Type, modelName string) (*model.Credential, error) {
	creds, err := p.byType(t)
	if err != nil {
		return nil, err
	}

	available := filterSelectable(creds, modelName)
	if len(available) == 0 {
		return nil, apierr.Selection("no available credential for type " + string(t))
	}
	if len(available) == 1 {
		return available[0], nil
	}
	return best(available, time.Now()), nil
}

// SelectionErrorDetail describes one unhealthy/unsupported credential, for
// the 503 body returned when selection fails (spec.md §7 SelectionError).
type SelectionErrorDetail struct {
	UUID             string `json:"uuid"`
	Name             string `json:"name"`
	LastErrorMessage string `json:"last_error_message"`
}

// SelectHealthy behaves like Select but additionally round-robins among
// equally-eligible credentials instead of using the weighted score, and
// reports structured detail when nothing is eligible (spec.md §4.B
// select_healthy_credential; §8 tests 5, 6).
func (p *Pool) SelectHealthy(t channeltype.Type, modelName string) (*model.Credential, []SelectionErrorDetail, error) {
	creds, err := p.byType(t)
	if err != nil {
		return nil, nil, err
	}
	if len(creds) == 0 {
		return nil, nil, apierr.Selection("no credentials registered for type " + string(t))
	}

	available := filterSelectable(creds, modelName)
	if len(available) == 0 {
		details := unhealthyDetails(creds, modelName)
		return nil, details, apierr.Selection("no healthy credential available for type " + string(t))
	}

	counter := p.counterFor(t)
	idx := counter.Add(1) - 1
	chosen := available[idx%uint64(len(available))]
	return chosen, nil, nil
}

func (p *Pool) counterFor(t channeltype.Type) *atomic.Uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.rrCounter[t]
	if !ok {
		c = &atomic.Uint64{}
		p.rrCounter[t] = c
	}
	return c
}

func filterSelectable(creds []*model.Credential, modelName string) []*model.Credential {
	out := make([]*model.Credential, 0, len(creds))
	for _, c := range creds {
		if c.Selectable(modelName) {
			out = append(out, c)
		}
	}
	return out
}

func unhealthyDetails(creds []*model.Credential, modelName string) []SelectionErrorDetail {
	var out []SelectionErrorDetail
	for _, c := range creds {
		if modelName != "" {
			supported := true
			for _, m := range c.NotSupportedModels() {
				if m == modelName {
					supported = false
					break
				}
			}
			if !supported {
				continue
			}
		}
		if !c.IsHealthy {
			out = append(out, SelectionErrorDetail{UUID: c.UUID, Name: c.Name, LastErrorMessage: c.LastErrorMessage})
		}
	}
	return out
}

// RecordUsage increments usage_count and stamps last_used (spec.md §4.B).
func (p *Pool) RecordUsage(uuid string) error {
	now := time.Now()
	return p.db.Model(&model.Credential{}).Where("uuid = ?", uuid).Updates(map[string]any{
		"usage_count": gorm.Expr("usage_count + 1"),
		"last_used":   now,
	}).Error
}

// MarkHealthy clears error state after a successful probe or request.
func (p *Pool) MarkHealthy(uuid string) error {
	return p.db.Model(&model.Credential{}).Where("uuid = ?", uuid).Updates(map[string]any{
		"is_healthy":  true,
		"error_count": 0,
	}).Error
}

// MarkUnhealthy increments error_count and flips is_healthy off once the
// count reaches config.MaxCredentialErrorCount (spec.md §3 Invariant I3).
func (p *Pool) MarkUnhealthy(uuid string, message string) error {
	var c model.Credential
	if err := p.db.Where("uuid = ?", uuid).First(&c).Error; err != nil {
		return errors.Wrap(err, "load credential")
	}
	c.ErrorCount++
	now := time.Now()
	c.LastErrorTime = &now
	c.LastErrorMessage = message
	c.IsHealthy = c.ErrorCount < config.MaxCredentialErrorCount
	if err := p.db.Save(&c).Error; err != nil {
		return errors.Wrap(err, "save credential health state")
	}
	if !c.IsHealthy {
		logger.Logger.Warn("credential flipped unhealthy", zap.String("uuid", uuid), zap.Uint32("error_count", c.ErrorCount))
	}
	return nil
}

// MarkQuotaExceeded puts uuid into cooldown for d without touching its
// health/error-count state (spec.md §10 "Quota-exceeded cooldown with
// project auto-switch" — a quota limit is expected to clear on its own,
// unlike an authentication failure).
func (p *Pool) MarkQuotaExceeded(uuid string, d time.Duration) error {
	until := time.Now().Add(d)
	return p.db.Model(&model.Credential{}).Where("uuid = ?", uuid).
		Update("cooldown_until", until).Error
}

// MarkUnhealthyWithDetails applies a taxonomy error's requires-reauth policy:
// invalid_grant immediately disables the credential regardless of
// error_count and prefixes the stored message, mirroring
// mark_unhealthy_with_details in the prior implementation (spec.md §7).
func (p *Pool) MarkUnhealthyWithDetails(uuid string, apiErr *apierr.Error) error {
	var c model.Credential
	if err := p.db.Where("uuid = ?", uuid).First(&c).Error; err != nil {
		return errors.Wrap(err, "load credential")
	}

	c.ErrorCount++
	now := time.Now()
	c.LastErrorTime = &now

	message := apiErr.Message
	if apiErr.RequiresReauth {
		c.IsHealthy = false
		message = "[需要重新授权] " + message
	} else {
		c.IsHealthy = c.ErrorCount < config.MaxCredentialErrorCount
	}
	c.LastErrorMessage = message

	if err := p.db.Save(&c).Error; err != nil {
		return errors.Wrap(err, "save credential health state")
	}
	return nil
}
