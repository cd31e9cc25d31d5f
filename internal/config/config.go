package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Trust    TrustConfig    `yaml:"trust"`
	Risk     RiskConfig     `yaml:"risk"`
	Decision DecisionConfig `yaml:"decision"`
	Session  SessionConfig  `yaml:"session"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Segment  SegmentConfig  `yaml:"segment"`
	Audit    AuditConfig    `yaml:"audit"`
	Events   EventsConfig   `yaml:"events"`
	Notify   NotifyConfig   `yaml:"notify"`
	Identity IdentityConfig `yaml:"identity"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// TrustConfig holds the deployment-tuned scoring weights. All weights are
// configuration rather than constants so verdicts stay explainable per
// deployment.
type TrustConfig struct {
	UserWeight   float64      `yaml:"user_weight"`   // composite share of the user score
	DeviceWeight float64      `yaml:"device_weight"` // composite share of the device score
	Factors      TrustWeights `yaml:"factors"`
	NeutralScore float64      `yaml:"neutral_score"` // default for missing factors
}

type TrustWeights struct {
	IdentityStrength float64 `yaml:"identity_strength"`
	Reverification   float64 `yaml:"reverification"`
	Behavior         float64 `yaml:"behavior"`
	Compliance       float64 `yaml:"compliance"`
	PatchCurrency    float64 `yaml:"patch_currency"`
	NetworkBinding   float64 `yaml:"network_binding"`
}

type RiskConfig struct {
	FailedAuthCap         float64 `yaml:"failed_auth_cap"`
	ViolationCap          float64 `yaml:"violation_cap"`
	AnomalyCap            float64 `yaml:"anomaly_cap"`
	NoveltyCap            float64 `yaml:"novelty_cap"`
	PerFailedAuth         float64 `yaml:"per_failed_auth"`
	PerViolation          float64 `yaml:"per_violation"`
	WatchlistContribution float64 `yaml:"watchlist_contribution"`
}

type DecisionConfig struct {
	DenyThreshold    float64 `yaml:"deny_threshold"`
	StepUpThreshold  float64 `yaml:"step_up_threshold"`
	StepUpTrustFloor float64 `yaml:"step_up_trust_floor"`
	// MaxRetainedRequests bounds the decided-request working set; the
	// oldest entries are evicted first. The audit log is the durable record.
	MaxRetainedRequests int `yaml:"max_retained_requests"`
}

type SessionConfig struct {
	MaxAgeMinutes      int `yaml:"max_age_minutes"`
	IdleTimeoutMinutes int `yaml:"idle_timeout_minutes"`
	SweepIntervalSec   int `yaml:"sweep_interval_sec"`
}

// MaxAge returns the absolute session lifetime.
func (s SessionConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeMinutes) * time.Minute
}

// IdleTimeout returns the maximum allowed inactivity window.
func (s SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutMinutes) * time.Minute
}

// SweepInterval returns how often the monitor sweeps stale sessions.
func (s SessionConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSec) * time.Second
}

type BehaviorConfig struct {
	MinObservations int `yaml:"min_observations"`
	MaxPatchAgeDays int `yaml:"max_patch_age_days"`
}

type SegmentConfig struct {
	ManagementSegment  string `yaml:"management_segment"`
	ManagementPorts    []int  `yaml:"management_ports"`
	DefaultSensitivity int    `yaml:"default_sensitivity"`
}

type AuditConfig struct {
	Backend         string `yaml:"backend"` // "memory", "postgres", "spanner"
	PostgresDSN     string `yaml:"postgres_dsn"`
	SpannerDatabase string `yaml:"spanner_database"` // projects/P/instances/I/databases/D
}

type EventsConfig struct {
	PubSubProject string `yaml:"pubsub_project"`
	Topic         string `yaml:"topic"`
}

type NotifyConfig struct {
	CloudTasksProject  string `yaml:"cloudtasks_project"`
	CloudTasksLocation string `yaml:"cloudtasks_location"`
	CloudTasksQueue    string `yaml:"cloudtasks_queue"`
	FallbackWorkers    int    `yaml:"fallback_workers"`
}

type IdentityConfig struct {
	TrustDomains []string `yaml:"trust_domains"`
}

// Default returns the configuration used when no file is supplied. These are
// design-choice defaults, documented per deployment, not extracted constants.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}

	if c.Trust.UserWeight == 0 {
		c.Trust.UserWeight = 0.6
	}
	if c.Trust.DeviceWeight == 0 {
		c.Trust.DeviceWeight = 0.4
	}
	if c.Trust.NeutralScore == 0 {
		c.Trust.NeutralScore = 50
	}
	if c.Trust.Factors.IdentityStrength == 0 {
		c.Trust.Factors.IdentityStrength = 0.4
	}
	if c.Trust.Factors.Reverification == 0 {
		c.Trust.Factors.Reverification = 0.25
	}
	if c.Trust.Factors.Behavior == 0 {
		c.Trust.Factors.Behavior = 0.35
	}
	if c.Trust.Factors.Compliance == 0 {
		c.Trust.Factors.Compliance = 0.5
	}
	if c.Trust.Factors.PatchCurrency == 0 {
		c.Trust.Factors.PatchCurrency = 0.3
	}
	if c.Trust.Factors.NetworkBinding == 0 {
		c.Trust.Factors.NetworkBinding = 0.2
	}

	if c.Risk.FailedAuthCap == 0 {
		c.Risk.FailedAuthCap = 25
	}
	if c.Risk.ViolationCap == 0 {
		c.Risk.ViolationCap = 30
	}
	if c.Risk.AnomalyCap == 0 {
		c.Risk.AnomalyCap = 25
	}
	if c.Risk.NoveltyCap == 0 {
		c.Risk.NoveltyCap = 20
	}
	if c.Risk.PerFailedAuth == 0 {
		c.Risk.PerFailedAuth = 5
	}
	if c.Risk.PerViolation == 0 {
		c.Risk.PerViolation = 10
	}
	if c.Risk.WatchlistContribution == 0 {
		c.Risk.WatchlistContribution = 15
	}

	if c.Decision.DenyThreshold == 0 {
		c.Decision.DenyThreshold = 80
	}
	if c.Decision.StepUpThreshold == 0 {
		c.Decision.StepUpThreshold = 50
	}
	if c.Decision.StepUpTrustFloor == 0 {
		c.Decision.StepUpTrustFloor = 60
	}
	if c.Decision.MaxRetainedRequests == 0 {
		c.Decision.MaxRetainedRequests = 10000
	}

	if c.Session.MaxAgeMinutes == 0 {
		c.Session.MaxAgeMinutes = 480 // 8h
	}
	if c.Session.IdleTimeoutMinutes == 0 {
		c.Session.IdleTimeoutMinutes = 30
	}
	if c.Session.SweepIntervalSec == 0 {
		c.Session.SweepIntervalSec = 60
	}

	if c.Behavior.MinObservations == 0 {
		c.Behavior.MinObservations = 10
	}
	if c.Behavior.MaxPatchAgeDays == 0 {
		c.Behavior.MaxPatchAgeDays = 30
	}

	if c.Segment.ManagementSegment == "" {
		c.Segment.ManagementSegment = "management"
	}
	if len(c.Segment.ManagementPorts) == 0 {
		c.Segment.ManagementPorts = []int{22, 443}
	}
	if c.Segment.DefaultSensitivity == 0 {
		c.Segment.DefaultSensitivity = 3
	}

	if c.Audit.Backend == "" {
		c.Audit.Backend = "memory"
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "accessd-events"
	}
	if c.Notify.FallbackWorkers == 0 {
		c.Notify.FallbackWorkers = 4
	}
}
