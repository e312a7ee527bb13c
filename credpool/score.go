package credpool

import (
	"time"

	"github.com/proxycast/gateway/model"
)

// score ranks a credential for selection (spec.md §4.B), higher is better.
// Ported from the prior implementation's calculate_credential_score: health
// (±), remaining-usage headroom relative to the pool's busiest credential,
// error rate, and a cooldown bonus that rewards credentials that haven't
// been used recently.
func score(c *model.Credential, now time.Time, pool []*model.Credential) float64 {
	var s float64

	if c.IsHealthy {
		s += 40
	} else {
		s -= 20
	}

	var maxUsage uint64 = 1
	for _, p := range pool {
		if p.UsageCount > maxUsage {
			maxUsage = p.UsageCount
		}
	}
	if maxUsage > 0 {
		s += 30 * (1 - float64(c.UsageCount)/float64(maxUsage))
	} else {
		s += 30
	}

	total := c.UsageCount + uint64(c.ErrorCount)
	if total > 0 {
		errRatio := float64(c.ErrorCount) / float64(total)
		s += 20 * (1 - errRatio)
	} else {
		s += 20
	}

	if c.LastUsed != nil {
		minutesSince := now.Sub(*c.LastUsed).Minutes()
		if minutesSince >= 5 {
			s += 10
		} else {
			s += 10 * (minutesSince / 5)
		}
	} else {
		s += 10
	}

	return s
}

// best returns the highest-scoring credential in candidates. Panics if
// candidates is empty; callers must filter to a non-empty slice first.
func best(candidates []*model.Credential, now time.Time) *model.Credential {
	var winner *model.Credential
	bestScore := -1e18
	for _, c := range candidates {
		if sc := score(c, now, candidates); sc > bestScore {
			bestScore = sc
			winner = c
		}
	}
	return winner
}
