package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// env resolves settings from the process environment first and from an
// optional file named by CONFIG_FILE second. Keys are case-insensitive, so
// "DB_USER" in the environment and "db_user" in a YAML file are the same key.
var env = newEnv()

func newEnv() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML/JSON/TOML config file into the lookup chain.
// Environment variables keep precedence.
func ReadFile(path string) error {
	if path == "" {
		return nil
	}
	env.SetConfigFile(path)
	return env.ReadInConfig()
}

func envStr(k, d string) string {
	if v := strings.TrimSpace(env.GetString(k)); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	switch strings.ToLower(envStr(k, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	if n, err := strconv.Atoi(envStr(k, "")); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	if dur, err := time.ParseDuration(envStr(k, "")); err == nil {
		return dur
	}
	return d
}
