// Package env reads typed settings from the process environment.
package env

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// GetStringFromFile prefers the file named by KEY_FILE (Docker secrets), then KEY, then def.
func GetStringFromFile(key, def string) string {
	if path := os.Getenv(key + "_FILE"); path != "" {
		if content, err := os.ReadFile(filepath.Clean(path)); err == nil {
			return string(bytes.TrimSpace(content))
		}
	}
	return GetString(key, def)
}

func GetString(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}

func GetInt(key string, def int) int {
	return parse(key, def, strconv.Atoi)
}

func GetBool(key string, def bool) bool {
	return parse(key, def, strconv.ParseBool)
}

func GetDuration(key string, def time.Duration) time.Duration {
	return parse(key, def, time.ParseDuration)
}

// GetList splits a comma separated value, dropping empty items.
func GetList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// parse falls back to def when the variable is unset or malformed.
func parse[T any](key string, def T, conv func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	value, err := conv(raw)
	if err != nil {
		return def
	}
	return value
}
