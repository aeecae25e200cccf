package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvParser converts the raw value of an environment variable.
type EnvParser[T any] func(raw string) (T, error)

func GetenvString(raw string) (string, error) {
	return raw, nil
}

func GetenvInt(raw string) (int, error) {
	return strconv.Atoi(raw)
}

func GetenvBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected bool, got %q", raw)
}

func GetenvDuration(raw string) (time.Duration, error) {
	return time.ParseDuration(raw)
}

// Getenv reads key and parses it. Unset or blank values yield fallback,
// or ErrEnvNotSet when required is true.
func Getenv[T any](parse EnvParser[T], key string, required bool, fallback T) (T, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		if required {
			var zero T
			return zero, fmt.Errorf("%s: %w", key, ErrEnvNotSet)
		}
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s parse error: %w", key, err)
	}
	return v, nil
}

func MustGetenv[T any](parse EnvParser[T], key string, required bool, fallback T) T {
	v, err := Getenv(parse, key, required, fallback)
	if err != nil {
		panic(err)
	}
	return v
}
