package credpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/proxycast/gateway/model"
	"github.com/proxycast/gateway/relay/channeltype"
)

func setupPoolTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Credential{}, &model.TokenCache{}))
	return db
}

func newCred(t *testing.T, db *gorm.DB, typ channeltype.Type, name string, mutate func(*model.Credential)) *model.Credential {
	c := &model.Credential{Type: typ, Name: name, IsHealthy: true}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, db.Create(c).Error)
	return c
}

func TestSelectIsDeterministicForASingleCandidate(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	c := newCred(t, db, channeltype.Gemini, "only", nil)

	got, err := p.Select(channeltype.Gemini, "")
	require.NoError(t, err)
	require.Equal(t, c.UUID, got.UUID)
}

func TestSelectSkipsUnhealthyAndDisabled(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	newCred(t, db, channeltype.Qwen, "unhealthy", func(c *model.Credential) { c.IsHealthy = false })
	newCred(t, db, channeltype.Qwen, "disabled", func(c *model.Credential) { c.IsDisabled = true })
	good := newCred(t, db, channeltype.Qwen, "good", nil)

	got, err := p.Select(channeltype.Qwen, "")
	require.NoError(t, err)
	require.Equal(t, good.UUID, got.UUID)
}

func TestSelectSkipsModelNotSupported(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	blocked := newCred(t, db, channeltype.Codex, "blocked", nil)
	blocked.SetNotSupportedModels([]string{"gpt-5-nano"})
	require.NoError(t, db.Save(blocked).Error)
	good := newCred(t, db, channeltype.Codex, "good", nil)

	got, err := p.Select(channeltype.Codex, "gpt-5-nano")
	require.NoError(t, err)
	require.Equal(t, good.UUID, got.UUID)
}

func TestSelectReturnsSelectionErrorWhenNothingAvailable(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	newCred(t, db, channeltype.Vertex, "only", func(c *model.Credential) { c.IsDisabled = true })

	_, err := p.Select(channeltype.Vertex, "")
	require.Error(t, err)
}

func TestSelectPrefersLessUsedAndHealthyCredential(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	heavilyUsed := newCred(t, db, channeltype.Kiro, "heavy", func(c *model.Credential) { c.UsageCount = 1000 })
	fresh := newCred(t, db, channeltype.Kiro, "fresh", nil)
	_ = heavilyUsed

	got, err := p.Select(channeltype.Kiro, "")
	require.NoError(t, err)
	require.Equal(t, fresh.UUID, got.UUID)
}

func TestSelectHealthyRoundRobinsAcrossEligibleCredentials(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	a := newCred(t, db, channeltype.Antigravity, "a", nil)
	b := newCred(t, db, channeltype.Antigravity, "b", nil)

	seen := map[string]int{}
	for i := 0; i < 20; i++ {
		got, details, err := p.SelectHealthy(channeltype.Antigravity, "")
		require.NoError(t, err)
		require.Empty(t, details)
		seen[got.UUID]++
	}

	require.Greater(t, seen[a.UUID], 0)
	require.Greater(t, seen[b.UUID], 0)
}

func TestAnthropicAndClaudeShareOnePool(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	c := newCred(t, db, channeltype.ClaudeKey, "claude-cred", nil)

	got, err := p.Select(channeltype.AnthropicAlias, "")
	require.NoError(t, err)
	require.Equal(t, c.UUID, got.UUID)
}

func TestMarkUnhealthyFlipsAfterMaxErrorCount(t *testing.T) {
	db := setupPoolTestDB(t)
	p := New(db)
	c := newCred(t, db, channeltype.OpenAIKey, "flaky", nil)

	require.NoError(t, p.MarkUnhealthy(c.UUID, "boom"))
	require.NoError(t, p.MarkUnhealthy(c.UUID, "boom"))
	require.NoError(t, p.MarkUnhealthy(c.UUID, "boom"))

	var reloaded model.Credential
	require.NoError(t, db.Where("uuid = ?", c.UUID).First(&reloaded).Error)
	require.False(t, reloaded.IsHealthy)
	require.Equal(t, uint32(3), reloaded.ErrorCount)
}

func TestCooldownScoreFavorsLongestIdleCredential(t *testing.T) {
	now := time.Now()
	recent := now.Add(-1 * time.Minute)
	stale := now.Add(-10 * time.Minute)

	a := &model.Credential{IsHealthy: true, LastUsed: &recent}
	b := &model.Credential{IsHealthy: true, LastUsed: &stale}
	pool := []*model.Credential{a, b}

	require.Greater(t, score(b, now, pool), score(a, now, pool))
}
