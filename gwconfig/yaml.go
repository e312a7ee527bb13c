package gwconfig

import (
	"net"
	"os"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"
)

// Validate rejects the malformed-config shapes the prior implementation's
// hot-reload property tests exercise: a zero listen port, an unreasonable
// retry budget, a zero base delay (which would busy-loop retries), and a
// zero log retention window (spec.md §4.A "hot-reload validators").
func (c Config) Validate() error {
	if c.Server.Port == 0 {
		return errors.New("server.port must not be 0")
	}
	if c.Retry.MaxRetries > 100 {
		return errors.New("retry.max_retries must not exceed 100")
	}
	if c.Retry.BaseDelayMs == 0 {
		return errors.New("retry.base_delay_ms must not be 0")
	}
	if c.Logging.RetentionDays == 0 {
		return errors.New("logging.retention_days must not be 0")
	}
	if err := c.validateLoopback(); err != nil {
		return err
	}
	return nil
}

// validateLoopback enforces spec.md §1's "no multi-tenant or remote access
// by default": the server must bind to a loopback address unless the
// operator has explicitly opted into remote_management.allow_remote.
func (c Config) validateLoopback() error {
	if c.RemoteManagement.AllowRemote {
		return nil
	}
	ip := net.ParseIP(c.Server.Host)
	if ip != nil && ip.IsLoopback() {
		return nil
	}
	if c.Server.Host == "localhost" {
		return nil
	}
	return errors.Errorf(
		"server.host %q is not a loopback address; set remote_management.allow_remote to bind non-loopback", c.Server.Host)
}

// ParseYAML decodes a YAML document into a Config, without validating it.
func ParseYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config yaml")
	}
	return cfg, nil
}

// Marshal serializes a Config back to YAML.
func (c Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config yaml")
	}
	return data, nil
}

// Load reads and validates the config file at path. A missing file yields
// Default() rather than an error, matching first-run behavior.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	cfg, err := ParseYAML(data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrap(err, "validate config file")
	}
	return cfg, nil
}

// Save validates and atomically writes cfg to path: serialize to a sibling
// temp file, then rename over the target, so a crash mid-write never
// corrupts the existing config. A ".yaml.backup" copy of the previous
// contents (if any) is kept alongside.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if existing, readErr := os.ReadFile(path); readErr == nil {
		_ = os.WriteFile(path+".backup", existing, 0o600)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write temp config file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "rename temp config file into place")
	}
	return nil
}

// ReloadOutcome reports what Reload actually did, mirroring the prior
// implementation's ReloadResult enum (Success/RolledBack/Failed).
type ReloadOutcome string

const (
	ReloadSuccess    ReloadOutcome = "success"
	ReloadRolledBack ReloadOutcome = "rolled_back"
	ReloadFailed     ReloadOutcome = "failed"
)

// Reload re-reads path and, if the result parses and validates, atomically
// swaps it into the Store via Update(FullReload, ..., HotReload). Any
// failure leaves the Store's current config untouched (spec.md §4.A
// "atomic-swap rollback semantics"; §8 test 11).
func (s *Store) Reload(path string) (ReloadOutcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReloadRolledBack, errors.Wrap(err, "read config file for reload")
	}

	newCfg, err := ParseYAML(data)
	if err != nil {
		return ReloadRolledBack, errors.Wrap(err, "parse config file for reload")
	}

	if err := newCfg.Validate(); err != nil {
		return ReloadRolledBack, errors.Wrap(err, "validate reloaded config")
	}

	s.Update(ChangeFullReload, newCfg, SourceHotReload)
	return ReloadSuccess, nil
}
