package gwconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Server.Port = 9000
	cfg.Routing.DefaultProvider = "kiro"

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, loaded.Server.Port)
	require.Equal(t, "kiro", loaded.Routing.DefaultProvider)
}

func TestSaveRejectsNonLoopbackHostWithoutAllowRemote(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Server.Host = "0.0.0.0"

	err := Save(path, cfg)
	require.Error(t, err)
}

func TestSaveAllowsNonLoopbackHostWhenRemoteAllowed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Default()
	cfg.Server.Host = "0.0.0.0"
	cfg.RemoteManagement.AllowRemote = true

	require.NoError(t, Save(path, cfg))
}

func TestValidateRejectsEachInvalidShape(t *testing.T) {
	cases := map[string]func(*Config){
		"zero port":           func(c *Config) { c.Server.Port = 0 },
		"too many retries":    func(c *Config) { c.Retry.MaxRetries = 101 },
		"zero base delay":     func(c *Config) { c.Retry.BaseDelayMs = 0 },
		"zero retention days": func(c *Config) { c.Logging.RetentionDays = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsDefault(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestReloadRollsBackOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	good := Default()
	good.Server.Port = 7000
	require.NoError(t, Save(path, good))

	store := NewStore(good)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  host: 127.0.0.1\n  port: 0\n"), 0o600))

	outcome, err := store.Reload(path)
	require.Error(t, err)
	require.Equal(t, ReloadRolledBack, outcome)
	require.Equal(t, 7000, store.Get().Server.Port)
}

func TestReloadSucceedsAndNotifiesObservers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	initial := Default()
	require.NoError(t, Save(path, initial))
	store := NewStore(initial)

	var seenKind ChangeKind
	var seenSource ChangeSource
	store.Register(ObserverFunc{
		FuncName:     "test-observer",
		FuncPriority: 10,
		Fn: func(ev ChangeEvent) {
			seenKind = ev.Kind
			seenSource = ev.Source
		},
	})

	updated := Default()
	updated.Server.Port = 9100
	require.NoError(t, Save(path, updated))

	outcome, err := store.Reload(path)
	require.NoError(t, err)
	require.Equal(t, ReloadSuccess, outcome)
	require.Equal(t, 9100, store.Get().Server.Port)
	require.Equal(t, ChangeFullReload, seenKind)
	require.Equal(t, SourceHotReload, seenSource)
}
