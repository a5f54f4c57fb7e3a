package env

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var fileEnv map[string]string

// SetupEnvFile loads the first .env file found. Missing files are not an error,
// in containers everything comes from the process environment.
func SetupEnvFile(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", "../.env", "../../.env"}
	}
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err == nil {
			fileEnv = values
			slog.Info("Loaded env file", "path", path)
			return
		}
	}
}

func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if val, ok := fileEnv[key]; ok && val != "" {
		return val
	}
	return def
}

func GetInt(key string, def int) int {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid int in env, using default", "key", key, "value", raw)
		return def
	}
	return val
}

func GetBool(key string, def bool) bool {
	raw := GetEnv(key, "")
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func GetSeconds(key string, def time.Duration) time.Duration {
	secs := GetInt(key, -1)
	if secs < 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}
