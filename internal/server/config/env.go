package config

import (
	"strconv"
	"time"
)

type lookupFunc func(key string) (string, bool)

// parseEnv overlays settings from environment variables. The names follow the
// deployment contract of the container (SECRET_KEY, ALGORITHM,
// ACCESS_TOKEN_EXPIRE_MINUTES, REDIS_HOST, REDIS_PORT, ...). Empty or
// unparsable values leave the current setting untouched.
func parseEnv(c *Config, lookup lookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	dur := func(key string, unit time.Duration, dst *time.Duration) {
		var n int
		num(key, &n)
		if n != 0 {
			*dst = time.Duration(n) * unit
		}
	}

	str("HTTP_ADDR", &c.EndpointAddrHTTP)
	str("GRPC_ADDR", &c.EndpointAddrGRPC)
	str("DATABASE_URL", &c.DatabaseDSN)
	str("SECRET_KEY", &c.SecretKey)
	str("ALGORITHM", &c.SecretAlgorithm)
	dur("ACCESS_TOKEN_EXPIRE_MINUTES", time.Minute, &c.AccessTokenValidityDuration)
	dur("RESET_TOKEN_EXPIRE_MINUTES", time.Minute, &c.ResetTokenValidityDuration)
	str("REDIS_HOST", &c.RedisHost)
	num("REDIS_PORT", &c.RedisPort)
	str("REDIS_PASSWORD", &c.RedisPassword)
	num("REDIS_DB", &c.RedisDB)
	str("CACHE_BACKEND", &c.CacheBackend)
	num("RATE_LIMIT_MAX", &c.RateLimitMax)
	dur("RATE_LIMIT_WINDOW_SECONDS", time.Second, &c.RateLimitWindow)
	num("LOGIN_LIMIT_MAX", &c.LoginLimitMax)
	dur("LOGIN_LIMIT_WINDOW_SECONDS", time.Second, &c.LoginLimitWindow)
	str("S3_ROOT_USER", &c.S3RootUser)
	str("S3_ROOT_PASSWORD", &c.S3RootPassword)
	str("S3_BUCKET", &c.S3Bucket)
	str("S3_REGION", &c.S3Region)
	str("S3_BASE_ENDPOINT", &c.S3BaseEndpoint)
	str("LOG_LEVEL", &c.LogLevel)
}
