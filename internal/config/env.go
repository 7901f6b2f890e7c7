package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// FromEnv overlays SPOTSYNC_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("SPOTSYNC_RELAYS"); v != "" {
		cfg.Relays = splitList(v)
	}
	envInt("SPOTSYNC_PER_RELAY_TIMEOUT_MS", &cfg.PerRelayTimeoutMs)
	envInt("SPOTSYNC_VERIFY_DELAY_MS", &cfg.VerifyDelayMs)
	envInt("SPOTSYNC_SEARCH_PRECISION", &cfg.SearchPrecision)
	envInt("SPOTSYNC_MAX_CLUSTER_PRECISION", &cfg.MaxClusterPrecision)
	if v := os.Getenv("SPOTSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SPOTSYNC_VERIFY_SIGNATURES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.VerifySignatures = b
		}
	}
	envFloat("SPOTSYNC_PUBLISH_RATE", &cfg.PublishRatePerSecond)
	if v := os.Getenv("SPOTSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SPOTSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("SPOTSYNC_SERVER_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("SPOTSYNC_SERVER_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("SPOTSYNC_SERVER_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	envFloat("SPOTSYNC_SERVER_PUBLISH_RATE", &cfg.Server.PublishRatePerSecond)
	envInt("SPOTSYNC_SERVER_PUBLISH_BURST", &cfg.Server.PublishBurst)
	envInt("SPOTSYNC_SERVER_MAX_QUERY_LIMIT", &cfg.Server.MaxQueryLimit)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
