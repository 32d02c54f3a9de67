package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// secretEnv resolves secret fallbacks. Process environment wins over values
// read from .env files.
type secretEnv map[string]string

// loadEnv reads .env from the config directory and then the working
// directory. Earlier files win. Missing files are ignored.
func loadEnv(configDir string) (secretEnv, error) {
	env := secretEnv{}
	candidates := []string{filepath.Join(configDir, ".env")}
	if wd, err := os.Getwd(); err == nil {
		if local := filepath.Join(wd, ".env"); local != candidates[0] {
			candidates = append(candidates, local)
		}
	}
	for _, path := range candidates {
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range values {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
	}
	return env, nil
}

func (e secretEnv) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value, true
	}
	value, ok := e[key]
	return value, ok && value != ""
}
