// Package config resolves process configuration through flags > environment
// > config file > defaults, layered with spf13/viper (spec.md §6 [NEW]).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved process configuration (spec.md §6
// "Environment variables (enumerated)").
type Config struct {
	WorkersConcurrency     int
	ListenerConcurrency    int
	JobsDefaultInterval    time.Duration
	HTTPAgent              string
	RepositoryConfiguration string
	SwordV2SleepTime       time.Duration

	RepositoryBaseURL string
	NATSURL           string
}

// envBindings lists every ORCH_* variable spec.md §6 enumerates, bound
// explicitly so viper's AutomaticEnv picks them up even before a config file
// sets a default.
var envBindings = map[string]string{
	"workers.concurrency":      "ORCH_WORKERS_CONCURRENCY",
	"listener.concurrency":     "ORCH_LISTENER_CONCURRENCY",
	"jobs.default_interval_ms": "ORCH_JOBS_DEFAULT_INTERVAL_MS",
	"http.agent":               "ORCH_HTTP_AGENT",
	"repository.configuration": "ORCH_REPOSITORY_CONFIGURATION",
	"swordv2.sleep_time_ms":    "ORCH_SWORDV2_SLEEP_TIME_MS",
	"repository.base_url":      "ORCH_REPOSITORY_BASE_URL",
	"nats.url":                 "ORCH_NATS_URL",
}

// Load resolves configuration from an optional file at configPath, the
// process environment, and spec.md's defaults, in that precedence order
// once flags (bound by the caller via v.BindPFlag before Load runs) are
// applied.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("listener.concurrency", 4)
	v.SetDefault("jobs.default_interval_ms", 600000)
	v.SetDefault("http.agent", "depositorchd")
	v.SetDefault("swordv2.sleep_time_ms", 10000)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	return &Config{
		WorkersConcurrency:      v.GetInt("workers.concurrency"),
		ListenerConcurrency:     v.GetInt("listener.concurrency"),
		JobsDefaultInterval:     time.Duration(v.GetInt("jobs.default_interval_ms")) * time.Millisecond,
		HTTPAgent:               v.GetString("http.agent"),
		RepositoryConfiguration: v.GetString("repository.configuration"),
		SwordV2SleepTime:        time.Duration(v.GetInt("swordv2.sleep_time_ms")) * time.Millisecond,
		RepositoryBaseURL:       v.GetString("repository.base_url"),
		NATSURL:                 v.GetString("nats.url"),
	}, nil
}
