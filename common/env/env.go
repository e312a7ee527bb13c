// Package env reads process environment variables with typed defaults,
// overlaid by viper so the same keys can also come from a config file or
// flags if a binding is registered. Grounded on the teacher's own
// common/config package pattern of "var X = env.Int(NAME, default)" at
// package-init time.
package env

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var v = viper.New()

func init() {
	v.AutomaticEnv()
}

// String returns the environment variable's value, or def if unset/blank.
func String(name string, def string) string {
	v.SetDefault(name, def)
	val := strings.TrimSpace(v.GetString(name))
	if val == "" {
		return def
	}
	return val
}

// Int returns the environment variable parsed as an int, or def if unset/invalid.
func Int(name string, def int) int {
	raw := strings.TrimSpace(v.GetString(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the environment variable parsed as a bool, or def if unset/invalid.
func Bool(name string, def bool) bool {
	raw := strings.TrimSpace(v.GetString(name))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
