package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// GetString reads an env var, falling back when unset. Empty values are
// returned as-is; unset and empty are different things for secrets.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt reads an env var as an integer. Unparseable values are logged
// and the fallback is used.
func GetInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		return fallback
	}
	return parsed
}

// GetSeconds reads an env var holding a whole number of seconds.
func GetSeconds(key string, fallback int) time.Duration {
	return time.Duration(GetInt(key, fallback)) * time.Second
}
