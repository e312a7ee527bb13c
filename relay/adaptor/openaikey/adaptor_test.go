package openaikey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeBaseDefaultsToOpenAI(t *testing.T) {
	require.Equal(t, defaultBaseURL, normalizeBase(""))
}

func TestNormalizeBaseAddsV1Suffix(t *testing.T) {
	require.Equal(t, "https://my-proxy.example.com/v1", normalizeBase("https://my-proxy.example.com"))
}

func TestNormalizeBasePreservesExistingV1(t *testing.T) {
	require.Equal(t, "https://my-proxy.example.com/v1", normalizeBase("https://my-proxy.example.com/v1"))
}
