package config

import (
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// dotenvFiles lists the files godotenv reads before the environment is parsed.
// Missing files are not an error.
var dotenvFiles = []string{".env"}

// parseEnv overlays STOREAUTH_* environment variables onto config. Unset
// variables leave the current value in place. A malformed value panics.
func parseEnv(config *Config) {
	for _, f := range dotenvFiles {
		_ = godotenv.Load(f)
	}
	if err := env.Parse(config); err != nil {
		panic(err)
	}
}
