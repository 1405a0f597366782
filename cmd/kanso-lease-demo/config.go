package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultTTL = 30 * time.Second

// config is the fully resolved set of options the demo runs with, after
// binding cobra flags through viper (so KANSO_LEASE_DEMO_* environment
// variables can override them too).
type config struct {
	Backend  string
	Endpoint string
	Path     string
	Owner    string
	TTL      time.Duration
}

func loadConfig(v *viper.Viper) (config, error) {
	cfg := config{
		Backend:  v.GetString("backend"),
		Endpoint: v.GetString("endpoint"),
		Path:     v.GetString("path"),
		Owner:    v.GetString("owner"),
		TTL:      v.GetDuration("ttl"),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	switch cfg.Backend {
	case "memory":
	case "gcs":
		if !strings.Contains(cfg.Path, "/") {
			return config{}, fmt.Errorf("kanso-lease-demo: --path must be \"bucket/key\" when --backend=gcs")
		}
	default:
		return config{}, fmt.Errorf("kanso-lease-demo: unknown --backend %q, want memory or gcs", cfg.Backend)
	}

	return cfg, nil
}
