package temporalx

import (
	"os"
	"strings"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string
}

func envTrim(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// LoadConfig pulls the Temporal connection settings from the environment.
// An empty Address means Temporal is not configured; callers then fall back
// to DB polling.
func LoadConfig() Config {
	return Config{
		Address:   envTrim("TEMPORAL_ADDRESS", ""),
		Namespace: envTrim("TEMPORAL_NAMESPACE", "rewatch"),
		TaskQueue: envTrim("TEMPORAL_TASK_QUEUE", "rewatch"),

		ClientCertPath: envTrim("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envTrim("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envTrim("TEMPORAL_CLIENT_CA_PATH", ""),
	}
}
