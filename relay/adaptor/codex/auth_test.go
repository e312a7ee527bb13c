package codex

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestBuildResponsesURLNormalizesTrailingSlashAndV1(t *testing.T) {
	require.Equal(t, "https://api.openai.com/v1/responses", buildResponsesURL("https://api.openai.com"))
	require.Equal(t, "https://api.openai.com/v1/responses", buildResponsesURL("https://api.openai.com/v1"))
	require.Equal(t, "https://example.com/v1/responses", buildResponsesURL("https://example.com/v1/"))
}

func TestAccountIDPrefersChatgptAccountIDOverUserIDAndSub(t *testing.T) {
	token := signUnverified(t, jwt.MapClaims{
		"sub": "user123",
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": "chatgpt_acc_123",
			"user_id":            "uid_456",
		},
	})
	id, err := AccountID(token)
	require.NoError(t, err)
	require.Equal(t, "chatgpt_acc_123", id)
}

func TestAccountIDFallsBackToUserID(t *testing.T) {
	token := signUnverified(t, jwt.MapClaims{
		"sub": "user123",
		"https://api.openai.com/auth": map[string]any{
			"user_id": "uid_456",
		},
	})
	id, err := AccountID(token)
	require.NoError(t, err)
	require.Equal(t, "uid_456", id)
}

func TestAccountIDFallsBackToSub(t *testing.T) {
	token := signUnverified(t, jwt.MapClaims{"sub": "user123"})
	id, err := AccountID(token)
	require.NoError(t, err)
	require.Equal(t, "user123", id)
}

func signUnverified(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret-not-verified"))
	require.NoError(t, err)
	return signed
}
