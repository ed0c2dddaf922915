package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/flagx"
)

var flagNames = []string{
	"a", "g", "d", "s", "alg", "t", "rt",
	"rh", "rp", "rdb", "cache",
	"rl", "rw", "ll", "lw",
	"u", "p", "b", "region", "e", "log",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string    REST bind address (e.g., ":8000")
//	-g string    gRPC bind address (e.g., ":50051")
//	-d string    PostgreSQL DSN
//	-s string    JWT HMAC secret key
//	-alg string  JWT algorithm (HS256, HS384, HS512)
//	-t int       access token validity, minutes
//	-rt int      password reset token validity, minutes
//	-rh string   Redis host
//	-rp int      Redis port
//	-rdb int     Redis database number
//	-cache string  cache backend: redis or memory
//	-rl int      authorized requests per identity per window (0 disables)
//	-rw int      request window, seconds
//	-ll int      login attempts per username per window (0 disables)
//	-lw int      login window, seconds
//	-u, -p, -b, -region, -e   S3 user, password, bucket, region, endpoint
//	-log string  log level
//
// Only the flags above are picked out of os.Args (see flagx.FilterArgs), so
// other components may define their own.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], flagNames)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to serve REST on")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to serve gRPC on")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.SecretAlgorithm, "alg", config.SecretAlgorithm, "JWT signing algorithm")

	accessTTL := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	resetTTL := fs.Int("rt", int(config.ResetTokenValidityDuration.Minutes()), "reset token validity (in minutes)")

	fs.StringVar(&config.RedisHost, "rh", config.RedisHost, "Redis host")
	fs.IntVar(&config.RedisPort, "rp", config.RedisPort, "Redis port")
	fs.IntVar(&config.RedisDB, "rdb", config.RedisDB, "Redis database")
	fs.StringVar(&config.CacheBackend, "cache", config.CacheBackend, "cache backend (redis|memory)")

	fs.IntVar(&config.RateLimitMax, "rl", config.RateLimitMax, "requests per identity per window")
	rateWindow := fs.Int("rw", int(config.RateLimitWindow.Seconds()), "request window (in seconds)")
	fs.IntVar(&config.LoginLimitMax, "ll", config.LoginLimitMax, "login attempts per username per window")
	loginWindow := fs.Int("lw", int(config.LoginLimitWindow.Seconds()), "login window (in seconds)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LogLevel, "log", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Integer flags would truncate finer values from the JSON file, so only
	// flags present on the command line overwrite durations.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTTL) * time.Minute
		case "rt":
			config.ResetTokenValidityDuration = time.Duration(*resetTTL) * time.Minute
		case "rw":
			config.RateLimitWindow = time.Duration(*rateWindow) * time.Second
		case "lw":
			config.LoginLimitWindow = time.Duration(*loginWindow) * time.Second
		}
	})
}
