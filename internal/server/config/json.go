package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/flagx"
	"github.com/dmitrijs2005/contactkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the optional config file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	SecretAlgorithm             string         `json:"secret_algorithm"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	ResetTokenValidityDuration  timex.Duration `json:"reset_token_validity_duration"`
	RedisHost                   string         `json:"redis_host"`
	RedisPort                   int            `json:"redis_port"`
	RedisPassword               string         `json:"redis_password"`
	RedisDB                     int            `json:"redis_db"`
	CacheBackend                string         `json:"cache_backend"`
	CacheTimeout                timex.Duration `json:"cache_timeout"`
	RateLimitMax                *int           `json:"rate_limit_max"`
	RateLimitWindow             timex.Duration `json:"rate_limit_window"`
	LoginLimitMax               *int           `json:"login_limit_max"`
	LoginLimitWindow            timex.Duration `json:"login_limit_window"`
	ProfileCacheTTL             timex.Duration `json:"profile_cache_ttl"`
	RequestTimeout              timex.Duration `json:"request_timeout"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	LogLevel                    string         `json:"log_level"`
}

// parseJson loads the file named by -c / -config (if any) and overlays every
// field present in it. Absent fields keep their current value. An unreadable
// file or invalid JSON panics: the process cannot start on a broken config.
func parseJson(config *Config) {
	path := flagx.ConfigPath(os.Args[1:])
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.applyTo(config)
}

func (c *JsonConfig) applyTo(config *Config) {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}

	setStr(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setStr(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setStr(&config.DatabaseDSN, c.DatabaseDSN)
	setStr(&config.SecretKey, c.SecretKey)
	setStr(&config.SecretAlgorithm, c.SecretAlgorithm)
	setStr(&config.RedisHost, c.RedisHost)
	setInt(&config.RedisPort, c.RedisPort)
	setStr(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)
	setStr(&config.CacheBackend, c.CacheBackend)
	setStr(&config.S3RootUser, c.S3RootUser)
	setStr(&config.S3RootPassword, c.S3RootPassword)
	setStr(&config.S3Bucket, c.S3Bucket)
	setStr(&config.S3Region, c.S3Region)
	setStr(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setStr(&config.LogLevel, c.LogLevel)

	if c.RateLimitMax != nil {
		config.RateLimitMax = *c.RateLimitMax
	}
	if c.LoginLimitMax != nil {
		config.LoginLimitMax = *c.LoginLimitMax
	}

	durations := []struct {
		dst *time.Duration
		src timex.Duration
	}{
		{&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration},
		{&config.ResetTokenValidityDuration, c.ResetTokenValidityDuration},
		{&config.CacheTimeout, c.CacheTimeout},
		{&config.RateLimitWindow, c.RateLimitWindow},
		{&config.LoginLimitWindow, c.LoginLimitWindow},
		{&config.ProfileCacheTTL, c.ProfileCacheTTL},
		{&config.RequestTimeout, c.RequestTimeout},
	}
	for _, d := range durations {
		if d.src.Duration != 0 {
			*d.dst = d.src.Duration
		}
	}
}
