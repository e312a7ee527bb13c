// Package credfile reads and partially rewrites the JSON OAuth credential
// files that Kiro/Gemini/Qwen/Antigravity/Codex/ClaudeOAuth/iFlow adaptors
// each keep at Credential.Payload().CredsFilePath. It is grounded on
// original_source/src-tauri/src/providers/kiro.rs's credential-merging
// logic, which treats the file as a loose serde_json::Value rather than a
// rigid struct because different auth sub-modes (social vs IdC) populate
// different subsets of fields plus provider-specific extras
// (client_id_hash, region, account identifiers). tidwall/gjson/sjson give
// Go the same "read/write one field of a JSON blob without a matching
// struct" capability.
package credfile

import (
	"os"

	"github.com/Laisky/errors/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Read loads the raw JSON document at path.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read credential file %q", path)
	}
	return string(data), nil
}

// Get reads a single dotted-path field out of path's JSON document.
func Get(path, field string) (string, error) {
	doc, err := Read(path)
	if err != nil {
		return "", err
	}
	res := gjson.Get(doc, field)
	if !res.Exists() {
		return "", nil
	}
	return res.String(), nil
}

// GetAll reads several fields in one file read, avoiding a re-open per
// field during a refresh flow that needs access_token/refresh_token/
// client_id/client_secret/expires_at together.
func GetAll(path string, fields ...string) (map[string]string, error) {
	doc, err := Read(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		res := gjson.Get(doc, f)
		if res.Exists() {
			out[f] = res.String()
		}
	}
	return out, nil
}

// Set writes a single field back into path's JSON document, preserving
// every other field and any provider-specific extras already present —
// the Go equivalent of the Rust provider's merge-into-serde_json::Value
// behavior when persisting a refreshed access_token.
func Set(path, field, value string) error {
	doc, err := Read(path)
	if err != nil {
		return err
	}
	updated, err := sjson.Set(doc, field, value)
	if err != nil {
		return errors.Wrapf(err, "set %q in credential file %q", field, path)
	}
	return os.WriteFile(path, []byte(updated), 0o600)
}

// SetAll applies several field updates atomically from the caller's view
// (single read-modify-write), used after a successful token refresh to
// persist access_token, refresh_token (if rotated), and expires_at
// together.
func SetAll(path string, fields map[string]string) error {
	doc, err := Read(path)
	if err != nil {
		return err
	}
	for k, v := range fields {
		doc, err = sjson.Set(doc, k, v)
		if err != nil {
			return errors.Wrapf(err, "set %q in credential file %q", k, path)
		}
	}
	return os.WriteFile(path, []byte(doc), 0o600)
}
