package model

import "time"

// TokenCache is the authoritative, persisted cached-token block for one
// credential (spec.md §3 "Cached token block", Invariant I5: this row is a
// pure cache — losing it is safe, the backing Credential.Payload file
// reference is not). One row per credential uuid, mirroring the teacher's
// one-row-per-key ability/ratio cache tables.
type TokenCache struct {
	ID uint `json:"id" gorm:"primaryKey"`

	CredentialUUID string `json:"credential_uuid" gorm:"uniqueIndex;size:36"`

	AccessToken  string     `json:"access_token,omitempty" gorm:"type:text"`
	RefreshToken string     `json:"refresh_token,omitempty" gorm:"type:text"`
	ExpiryTime   *time.Time `json:"expiry_time,omitempty"`
	LastRefresh  *time.Time `json:"last_refresh,omitempty"`

	RefreshErrorCount uint32 `json:"refresh_error_count" gorm:"default:0"`
	LastRefreshError  string `json:"last_refresh_error,omitempty" gorm:"type:text"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Valid reports whether the cached access token is present and not within
// margin of its expiry (spec.md §4.C, common.config.TokenValidityMargin).
func (t *TokenCache) Valid(margin time.Duration, now time.Time) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiryTime == nil {
		// No known expiry: treat the access token snapshot as valid for its
		// own lifetime (e.g. truncation-fallback rows, see tokencache package).
		return true
	}
	return now.Add(margin).Before(*t.ExpiryTime)
}
