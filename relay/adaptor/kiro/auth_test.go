package kiro

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectAuthMethod(t *testing.T) {
	require.Equal(t, authIdC, detectAuthMethod("client-id", "client-secret"))
	require.Equal(t, authSocial, detectAuthMethod("", ""))
	require.Equal(t, authSocial, detectAuthMethod("client-id", ""))
}

func TestRefreshURLPerAuthMethod(t *testing.T) {
	require.Equal(t, "https://oidc.us-east-1.amazonaws.com/token", refreshURL(authIdC, "us-east-1"))
	require.Equal(t, "https://prod.eu-west-1.auth.desktop.kiro.dev/refreshToken", refreshURL(authSocial, "eu-west-1"))
}

func TestRegionDefaultsToUsEast1(t *testing.T) {
	require.Equal(t, "us-east-1", region(map[string]string{}))
	require.Equal(t, "eu-central-1", region(map[string]string{"region": "eu-central-1"}))
}

func TestDeviceFingerprintIsStableAndHexSha256(t *testing.T) {
	a := DeviceFingerprint()
	b := DeviceFingerprint()
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}
