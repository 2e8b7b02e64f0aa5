// Package config provides hierarchical configuration loading for agentswarm.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the orchestration core.
type Config struct {
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
	LLM        LLM        `yaml:"llm"`
	Breaker    Breaker    `yaml:"breaker"`
	Bus        Bus        `yaml:"bus"`
	NATS       NATS       `yaml:"nats"`
	Queue      Queue      `yaml:"queue"`
	Worker     Worker     `yaml:"worker"`
	Health     Health     `yaml:"health"`
	Brainstorm Brainstorm `yaml:"brainstorm"`
	Deviation  Deviation  `yaml:"deviation"`
	Evaluator  Evaluator  `yaml:"evaluator"`
	Refinement Refinement `yaml:"refinement"`
	Knowledge  Knowledge  `yaml:"knowledge"`
	Cache      Cache      `yaml:"cache"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// LLM holds completion service configuration.
type LLM struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Breaker holds circuit breaker configuration for the completion client.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Bus holds in-process message bus configuration.
type Bus struct {
	BufferSize int `yaml:"buffer_size"`
}

// NATS holds the optional JetStream event bridge configuration.
type NATS struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Queue holds task queue configuration.
type Queue struct {
	Retention       time.Duration `yaml:"retention"`        // keep completed/cancelled records this long
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // janitor tick
}

// Worker holds agent worker configuration.
type Worker struct {
	PollInterval     time.Duration `yaml:"poll_interval"`     // sleep between failed claim attempts
	MonitorInterval  time.Duration `yaml:"monitor_interval"`  // self-monitoring tick
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures before error state
	ApplyChanges     bool          `yaml:"apply_changes"`     // run the applier after a successful proposal
}

// Health holds health monitor configuration.
type Health struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	UnhealthyAfter   time.Duration `yaml:"unhealthy_after"`    // rolling window without activity
	RestartCooldown  time.Duration `yaml:"restart_cooldown"`   // rate limit between restarts of one worker
	RequeueOnRestart bool          `yaml:"requeue_on_restart"` // requeue (true) or cancel the in-flight claim
}

// Brainstorm holds fan-out session configuration.
type Brainstorm struct {
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`   // cap on simultaneous agent pipelines
	VaryTasks       bool          `yaml:"vary_tasks"`       // produce per-agent task variations
	RelevanceWeight float64       `yaml:"relevance_weight"` // combined rank = relevance*w + score*(1-w)
	MinRelevance    float64       `yaml:"min_relevance"`    // consolidation filter floor
	RefineBelow     float64       `yaml:"refine_below"`     // relevance under which refinement triggers
}

// Deviation holds deviation controller thresholds. The shape of the scoring
// is fixed; the constants are tunable.
type Deviation struct {
	NoneThreshold   float64 `yaml:"none_threshold"`   // relevance floor for level none/low
	MediumThreshold float64 `yaml:"medium_threshold"` // relevance floor for level medium
	ShortTextLen    int     `yaml:"short_text_len"`   // descriptions shorter than this are penalized
	MaxRequirements int     `yaml:"max_requirements"` // cap on extracted requirement phrases
}

// Evaluator holds solution evaluator configuration.
type Evaluator struct {
	HighImpactPenalty float64       `yaml:"high_impact_penalty"` // multiplier applied on high dependency impact
	SnapshotMaxAge    time.Duration `yaml:"snapshot_max_age"`    // project snapshot staleness tolerance
}

// Refinement holds ensemble refinement configuration.
type Refinement struct {
	MaxSuggestions int           `yaml:"max_suggestions"` // suggestions folded into the refined solution
	WeakAxisFloor  float64       `yaml:"weak_axis_floor"` // axes under this get a ranking bonus
	Timeout        time.Duration `yaml:"timeout"`
	MinRelevance   float64       `yaml:"min_relevance"` // reject refined solution below this relevance
	MinScore       float64       `yaml:"min_score"`     // reject refined solution below this score
}

// Knowledge holds the decision/outcome history file locations.
type Knowledge struct {
	Dir string `yaml:"dir"`
}

// Cache holds the in-process cache configuration.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	ImpactTTL time.Duration `yaml:"impact_ttl"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Logging: Logging{
			Level:   "info",
			Service: "agentswarm-core",
		},
		LLM: LLM{
			URL:     "http://localhost:4000",
			Timeout: 120 * time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Bus: Bus{
			BufferSize: 256,
		},
		NATS: NATS{
			Enabled: false,
			URL:     "nats://localhost:4222",
		},
		Queue: Queue{
			Retention:       24 * time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Worker: Worker{
			PollInterval:     2 * time.Second,
			MonitorInterval:  30 * time.Second,
			FailureThreshold: 3,
			ApplyChanges:     false,
		},
		Health: Health{
			PollInterval:     10 * time.Second,
			UnhealthyAfter:   2 * time.Minute,
			RestartCooldown:  time.Minute,
			RequeueOnRestart: true,
		},
		Brainstorm: Brainstorm{
			SessionTimeout:  10 * time.Minute,
			MaxConcurrent:   4,
			VaryTasks:       true,
			RelevanceWeight: 0.4,
			MinRelevance:    0.5,
			RefineBelow:     0.7,
		},
		Deviation: Deviation{
			NoneThreshold:   0.7,
			MediumThreshold: 0.5,
			ShortTextLen:    40,
			MaxRequirements: 8,
		},
		Evaluator: Evaluator{
			HighImpactPenalty: 0.8,
			SnapshotMaxAge:    24 * time.Hour,
		},
		Refinement: Refinement{
			MaxSuggestions: 3,
			WeakAxisFloor:  0.6,
			Timeout:        5 * time.Minute,
			MinRelevance:   0.7,
			MinScore:       0.5,
		},
		Knowledge: Knowledge{
			Dir: ".agentswarm",
		},
		Cache: Cache{
			MaxSizeMB: 64,
			ImpactTTL: time.Hour,
		},
	}
}
