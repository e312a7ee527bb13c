package kiro

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
)

// gatewayVersion stands in for the desktop IDE's own version string in the
// Social auth User-Agent header; ProxyCast has no IDE build number of its
// own, so it reports its own version the same way the prior
// implementation's get_kiro_version falls back to a hardcoded default when
// it cannot read an installed IDE bundle.
const gatewayVersion = "0.0.0-proxycast"

// DeviceFingerprint returns the sha256 hex digest of the host's machine id,
// used in Kiro's Social-auth refresh User-Agent header
// ("KiroIDE-<version>-<fingerprint>"). Grounded on
// original_source/src-tauri/src/providers/kiro.rs's get_device_fingerprint/
// get_raw_machine_id: only the Linux branch (/etc/machine-id, falling back
// to /var/lib/dbus/machine-id) is carried over — ProxyCast is a Linux
// gateway service, and the macOS ioreg/Windows wmic branches have no
// equivalent on this target, so they are dropped rather than faithfully
// ported to code that could never run.
func DeviceFingerprint() string {
	raw := rawMachineID()
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func rawMachineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			if id := strings.ToLower(strings.TrimSpace(string(data))); id != "" {
				return id
			}
		}
	}
	return "00000000-0000-0000-0000-000000000000"
}
