package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-a", "127.0.0.1:8080", "-g", "127.0.0.1:9090", "-d", "db", "-s", "secret", "-alg", "HS384",
			"-t", "5", "-rt", "60", "-rh", "cache", "-rp", "6380", "-rdb", "2", "-cache", "memory",
			"-rl", "10", "-rw", "30", "-ll", "3", "-lw", "120",
			"-u", "user", "-p", "password", "-b", "bucket", "-region", "us-west-1", "-e", "http://endpoint",
			"-log", "DEBUG",
		}, expected: &Config{
			EndpointAddrHTTP:            "127.0.0.1:8080",
			EndpointAddrGRPC:            "127.0.0.1:9090",
			DatabaseDSN:                 "db",
			SecretKey:                   "secret",
			SecretAlgorithm:             "HS384",
			AccessTokenValidityDuration: 5 * time.Minute,
			ResetTokenValidityDuration:  60 * time.Minute,
			RedisHost:                   "cache",
			RedisPort:                   6380,
			RedisDB:                     2,
			CacheBackend:                "memory",
			RateLimitMax:                10,
			RateLimitWindow:             30 * time.Second,
			LoginLimitMax:               3,
			LoginLimitWindow:            2 * time.Minute,
			S3RootUser:                  "user",
			S3RootPassword:              "password",
			S3Bucket:                    "bucket",
			S3Region:                    "us-west-1",
			S3BaseEndpoint:              "http://endpoint",
			LogLevel:                    "DEBUG",
		}},
		{name: "unknown flags are filtered out", args: []string{"cmd", "-zzz", "1", "-s", "k"},
			expected: &Config{SecretKey: "k"}},
		{name: "bad int panics", args: []string{"cmd", "-rp", "abc"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}

func TestParseFlags_KeepsUnsetDurations(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"cmd", "-rw", "30"}
	config := &Config{
		AccessTokenValidityDuration: 90 * time.Second,
		ResetTokenValidityDuration:  30 * time.Second,
		RateLimitWindow:             1500 * time.Millisecond,
		LoginLimitWindow:            2500 * time.Millisecond,
	}

	parseFlags(config)

	assert.Equal(t, 90*time.Second, config.AccessTokenValidityDuration)
	assert.Equal(t, 30*time.Second, config.ResetTokenValidityDuration)
	assert.Equal(t, 30*time.Second, config.RateLimitWindow, "explicit flag still wins")
	assert.Equal(t, 2500*time.Millisecond, config.LoginLimitWindow)
}
