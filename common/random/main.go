// Package random provides the gateway's CSPRNG-backed token generation,
// adapted from the teacher's common/random package.
package random

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/Laisky/errors/v2"
)

// GenerateAPIKey returns a fresh `pc_`-prefixed, 32-byte URL-safe client
// API token (spec.md §6 "api_key is the server's generated 32-byte
// URL-safe token (prefixed pc_), unique per install, regenerated on first
// run"). cmd/gateway calls this exactly once, the first time config.yaml
// is loaded with an empty server.api_key, and persists the result.
func GenerateAPIKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(errors.Wrap(err, "generating API key"))
	}
	return "pc_" + base64.RawURLEncoding.EncodeToString(buf)
}
