package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "agentswarm.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SWARM_PORT")
	setString(&cfg.Server.CORSOrigin, "SWARM_CORS_ORIGIN")
	setString(&cfg.Logging.Level, "SWARM_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SWARM_LOG_SERVICE")
	setString(&cfg.LLM.URL, "SWARM_LLM_URL")
	setString(&cfg.LLM.APIKey, "SWARM_LLM_API_KEY")
	setDuration(&cfg.LLM.Timeout, "SWARM_LLM_TIMEOUT")
	setInt(&cfg.Breaker.MaxFailures, "SWARM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SWARM_BREAKER_TIMEOUT")
	setInt(&cfg.Bus.BufferSize, "SWARM_BUS_BUFFER")
	setBool(&cfg.NATS.Enabled, "SWARM_NATS_ENABLED")
	setString(&cfg.NATS.URL, "NATS_URL")
	setDuration(&cfg.Queue.Retention, "SWARM_QUEUE_RETENTION")
	setDuration(&cfg.Queue.CleanupInterval, "SWARM_QUEUE_CLEANUP_INTERVAL")
	setDuration(&cfg.Worker.PollInterval, "SWARM_WORKER_POLL_INTERVAL")
	setDuration(&cfg.Worker.MonitorInterval, "SWARM_WORKER_MONITOR_INTERVAL")
	setInt(&cfg.Worker.FailureThreshold, "SWARM_WORKER_FAILURE_THRESHOLD")
	setBool(&cfg.Worker.ApplyChanges, "SWARM_WORKER_APPLY_CHANGES")
	setDuration(&cfg.Health.PollInterval, "SWARM_HEALTH_POLL_INTERVAL")
	setDuration(&cfg.Health.UnhealthyAfter, "SWARM_HEALTH_UNHEALTHY_AFTER")
	setDuration(&cfg.Health.RestartCooldown, "SWARM_HEALTH_RESTART_COOLDOWN")
	setBool(&cfg.Health.RequeueOnRestart, "SWARM_HEALTH_REQUEUE_ON_RESTART")
	setDuration(&cfg.Brainstorm.SessionTimeout, "SWARM_BRAINSTORM_TIMEOUT")
	setInt(&cfg.Brainstorm.MaxConcurrent, "SWARM_BRAINSTORM_MAX_CONCURRENT")
	setBool(&cfg.Brainstorm.VaryTasks, "SWARM_BRAINSTORM_VARY_TASKS")
	setFloat64(&cfg.Brainstorm.RelevanceWeight, "SWARM_BRAINSTORM_RELEVANCE_WEIGHT")
	setFloat64(&cfg.Brainstorm.MinRelevance, "SWARM_BRAINSTORM_MIN_RELEVANCE")
	setFloat64(&cfg.Brainstorm.RefineBelow, "SWARM_BRAINSTORM_REFINE_BELOW")
	setFloat64(&cfg.Deviation.NoneThreshold, "SWARM_DEVIATION_NONE_THRESHOLD")
	setFloat64(&cfg.Deviation.MediumThreshold, "SWARM_DEVIATION_MEDIUM_THRESHOLD")
	setInt(&cfg.Deviation.ShortTextLen, "SWARM_DEVIATION_SHORT_TEXT_LEN")
	setInt(&cfg.Deviation.MaxRequirements, "SWARM_DEVIATION_MAX_REQUIREMENTS")
	setFloat64(&cfg.Evaluator.HighImpactPenalty, "SWARM_EVAL_HIGH_IMPACT_PENALTY")
	setDuration(&cfg.Evaluator.SnapshotMaxAge, "SWARM_EVAL_SNAPSHOT_MAX_AGE")
	setInt(&cfg.Refinement.MaxSuggestions, "SWARM_REFINE_MAX_SUGGESTIONS")
	setFloat64(&cfg.Refinement.WeakAxisFloor, "SWARM_REFINE_WEAK_AXIS_FLOOR")
	setDuration(&cfg.Refinement.Timeout, "SWARM_REFINE_TIMEOUT")
	setFloat64(&cfg.Refinement.MinRelevance, "SWARM_REFINE_MIN_RELEVANCE")
	setFloat64(&cfg.Refinement.MinScore, "SWARM_REFINE_MIN_SCORE")
	setString(&cfg.Knowledge.Dir, "SWARM_KNOWLEDGE_DIR")
	setInt64(&cfg.Cache.MaxSizeMB, "SWARM_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.ImpactTTL, "SWARM_CACHE_IMPACT_TTL")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.LLM.URL == "" {
		return errors.New("llm.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Bus.BufferSize < 1 {
		return errors.New("bus.buffer_size must be >= 1")
	}
	if cfg.Worker.FailureThreshold < 1 {
		return errors.New("worker.failure_threshold must be >= 1")
	}
	if cfg.Brainstorm.SessionTimeout <= 0 {
		return errors.New("brainstorm.session_timeout must be positive")
	}
	if cfg.Brainstorm.RelevanceWeight < 0 || cfg.Brainstorm.RelevanceWeight > 1 {
		return errors.New("brainstorm.relevance_weight must be in [0,1]")
	}
	if cfg.Deviation.MediumThreshold > cfg.Deviation.NoneThreshold {
		return errors.New("deviation.medium_threshold must not exceed deviation.none_threshold")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
