package random_test

import (
	"testing"

	"github.com/proxycast/gateway/common/random"
)

func TestGenerateAPIKeyIsUniqueAndPrefixed(t *testing.T) {
	iterations := 10000
	seen := make(map[string]bool, iterations)

	for i := 0; i < iterations; i++ {
		key := random.GenerateAPIKey()
		if len(key) < 4 || key[:3] != "pc_" {
			t.Fatalf("GenerateAPIKey() = %q, want pc_-prefixed", key)
		}
		if seen[key] {
			t.Fatalf("GenerateAPIKey() produced a duplicate: %q", key)
		}
		seen[key] = true
	}
}
