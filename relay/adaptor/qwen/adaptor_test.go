package qwen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseURLDefaultsWhenNoResourceURL(t *testing.T) {
	require.Equal(t, qwenBaseURL, baseURL(""))
}

func TestBaseURLAddsSchemeAndV1Suffix(t *testing.T) {
	require.Equal(t, "https://dashscope-intl.aliyuncs.com/v1", baseURL("dashscope-intl.aliyuncs.com"))
}

func TestBaseURLPreservesExistingSchemeAndV1Suffix(t *testing.T) {
	require.Equal(t, "https://example.com/v1", baseURL("https://example.com/v1"))
}
