// Package config loads auth.Config from the environment.
//
// Every key can be set as GURU_<KEY> (e.g. GURU_API_BASE_URL). An optional
// .env file is loaded first; variables already present in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	auth "github.com/shreegurucool/auth-go"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "GURU"

// Keys.
const (
	KeyAPIBaseURL      = "api_base_url"
	KeyWithCredentials = "with_credentials"
	KeyProbeTimeoutMS  = "probe_timeout_ms"
	KeyResendCooldownS = "resend_cooldown_s"
	KeyTokenStore      = "token_store"
	KeyTokenFile       = "token_file"
	KeyRedisAddr       = "redis_addr"
	KeyRedisPassword   = "redis_password"
	KeyRedisNamespace  = "redis_namespace"
	KeyMetricsEnabled  = "metrics_enabled"
	KeyEntryPath       = "entry_path"
	KeyDebug           = "debug"
)

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()

	v.SetTypeByDefaultValue(true)
	v.SetDefault(KeyAPIBaseURL, auth.DefaultBaseURL)
	v.SetDefault(KeyWithCredentials, true)
	v.SetDefault(KeyProbeTimeoutMS, auth.DefaultProbeTimeout.Milliseconds())
	v.SetDefault(KeyResendCooldownS, int(auth.DefaultResendCooldown.Seconds()))
	v.SetDefault(KeyTokenStore, "file")
	v.SetDefault(KeyTokenFile, defaultTokenFile())
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisNamespace, "guruauth")
	v.SetDefault(KeyMetricsEnabled, false)
	v.SetDefault(KeyEntryPath, auth.DefaultEntryPath)
	v.SetDefault(KeyDebug, false)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads path into the environment if it exists.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Decode reads an auth.Config from v.
func Decode(v *viper.Viper) (auth.Config, error) {
	probe := v.GetInt64(KeyProbeTimeoutMS)
	if probe < 0 {
		return auth.Config{}, fmt.Errorf("config: %s must not be negative", KeyProbeTimeoutMS)
	}
	cooldown := v.GetInt64(KeyResendCooldownS)
	if cooldown < 0 {
		return auth.Config{}, fmt.Errorf("config: %s must not be negative", KeyResendCooldownS)
	}

	return auth.Config{
		BaseURL:            v.GetString(KeyAPIBaseURL),
		DisableCredentials: !v.GetBool(KeyWithCredentials),
		ProbeTimeout:       time.Duration(probe) * time.Millisecond,
		ResendCooldown:     time.Duration(cooldown) * time.Second,
		TokenStore:         v.GetString(KeyTokenStore),
		TokenFile:          v.GetString(KeyTokenFile),
		RedisAddr:          v.GetString(KeyRedisAddr),
		RedisPassword:      v.GetString(KeyRedisPassword),
		RedisNamespace:     v.GetString(KeyRedisNamespace),
		MetricsEnabled:     v.GetBool(KeyMetricsEnabled),
		EntryPath:          v.GetString(KeyEntryPath),
		Debug:              v.GetBool(KeyDebug),
	}, nil
}

// Load loads envFile (optional) and decodes the environment.
func Load(envFile string) (auth.Config, error) {
	if err := LoadDotEnv(envFile); err != nil {
		return auth.Config{}, err
	}
	return Decode(New())
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".guruauth", "storage.json")
	}
	return filepath.Join(dir, "guruauth", "storage.json")
}
