package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/shiftgate/internal/models"
)

// Config captures the settings required to run the migration controller.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Notify    NotifyConfig    `yaml:"notify"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Migration MigrationConfig `yaml:"migration"`
}

// ServerConfig controls the operator-facing listeners.
type ServerConfig struct {
	AdminAddress    string        `yaml:"adminAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	HealthAddress   string        `yaml:"healthAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// MeshConfig configures access to the mesh traffic-split admin API.
type MeshConfig struct {
	BaseURL   string        `yaml:"baseURL"`
	SplitPath string        `yaml:"splitPath"`
	Timeout   time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the metrics backend used for trigger evaluation.
type MetricsConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	QueryPath  string        `yaml:"queryPath"`
	Timeout    time.Duration `yaml:"timeout"`
	MinSamples int           `yaml:"minSamples"`
}

// NotifyConfig configures the alert webhook.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// AuditConfig controls Valkey-backed persistence of terminal runs and
// rollback events.
type AuditConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	TLS          bool          `yaml:"tls"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	RunTTL       time.Duration `yaml:"runTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ServiceConfig declares one service under migration.
type ServiceConfig struct {
	Name string `yaml:"name"`
	Rank int    `yaml:"rank"`
	Port int    `yaml:"port"`
}

// TriggerConfig declares one rollback trigger rule.
type TriggerConfig struct {
	Signal              string        `yaml:"signal"`
	Comparison          string        `yaml:"comparison"`
	Threshold           float64       `yaml:"threshold"`
	Window              time.Duration `yaml:"window"`
	ConsecutiveFailures int           `yaml:"consecutiveFailures"`
	Severity            string        `yaml:"severity"`
}

// MigrationConfig is the static migration plan: stage list, cadence, service
// inventory, and trigger table. Not mutated at runtime.
type MigrationConfig struct {
	PollInterval        time.Duration   `yaml:"pollInterval"`
	SettleDuration      time.Duration   `yaml:"settleDuration"`
	MaxSetSplitAttempts int             `yaml:"maxSetSplitAttempts"`
	Stages              []int           `yaml:"stages"`
	Services            []ServiceConfig `yaml:"services"`
	Triggers            []TriggerConfig `yaml:"triggers"`
}

// ErrInvalid is wrapped by every validation failure so callers can map the
// whole family to a single exit code.
var ErrInvalid = errors.New("invalid configuration")

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SHIFTGATE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			AdminAddress:    ":8088",
			MetricsAddress:  ":2112",
			HealthAddress:   ":50051",
			GracefulTimeout: 10 * time.Second,
		},
		Mesh: MeshConfig{
			SplitPath: "/api/v1/traffic-splits",
			Timeout:   5 * time.Second,
		},
		Metrics: MetricsConfig{
			QueryPath:  "/api/v1/signal/query",
			Timeout:    5 * time.Second,
			MinSamples: 5,
		},
		Notify: NotifyConfig{Timeout: 3 * time.Second},
		Audit: AuditConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			RunTTL:       30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Migration: MigrationConfig{
			PollInterval:        30 * time.Second,
			SettleDuration:      5 * time.Minute,
			MaxSetSplitAttempts: 5,
			Stages:              []int{90, 70, 50, 30, 10, 0},
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHIFTGATE_ADMIN_ADDRESS"); v != "" {
		cfg.Server.AdminAddress = v
	}
	if v := os.Getenv("SHIFTGATE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SHIFTGATE_HEALTH_ADDRESS"); v != "" {
		cfg.Server.HealthAddress = v
	}
	if v := os.Getenv("SHIFTGATE_MESH_URL"); v != "" {
		cfg.Mesh.BaseURL = v
	}
	if v := os.Getenv("SHIFTGATE_METRICS_BACKEND_URL"); v != "" {
		cfg.Metrics.BaseURL = v
	}
	if v := os.Getenv("SHIFTGATE_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("SHIFTGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SHIFTGATE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SHIFTGATE_AUDIT_ADDR"); v != "" {
		cfg.Audit.Addr = v
	}
	if v := os.Getenv("SHIFTGATE_AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("SHIFTGATE_AUDIT_USERNAME"); v != "" {
		cfg.Audit.Username = v
	}
	if v := os.Getenv("SHIFTGATE_AUDIT_PASSWORD"); v != "" {
		cfg.Audit.Password = v
	}
	if v := os.Getenv("SHIFTGATE_AUDIT_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Audit.DB = db
		}
	}
	if v := os.Getenv("SHIFTGATE_AUDIT_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Audit.TLS = true
	}
	if v := os.Getenv("SHIFTGATE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Migration.PollInterval = d
		}
	}
	if v := os.Getenv("SHIFTGATE_SETTLE_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Migration.SettleDuration = d
		}
	}
}

// Validate checks the whole configuration and reports the first problem.
// It runs before any migration state is created.
func (c *Config) Validate() error {
	if c.Mesh.BaseURL == "" {
		return invalidf("mesh.baseURL is required")
	}
	if c.Metrics.BaseURL == "" {
		return invalidf("metrics.baseURL is required")
	}
	if c.Metrics.MinSamples < 1 {
		return invalidf("metrics.minSamples must be at least 1")
	}
	if c.Audit.Enabled && c.Audit.Addr == "" {
		return invalidf("audit.addr is required when audit is enabled")
	}
	return c.Migration.validate()
}

func (m *MigrationConfig) validate() error {
	if m.PollInterval <= 0 {
		return invalidf("migration.pollInterval must be positive")
	}
	if m.SettleDuration <= 0 {
		return invalidf("migration.settleDuration must be positive")
	}
	if m.MaxSetSplitAttempts < 1 {
		return invalidf("migration.maxSetSplitAttempts must be at least 1")
	}
	if err := validateStages(m.Stages); err != nil {
		return err
	}
	if len(m.Services) == 0 {
		return invalidf("migration.services must not be empty")
	}
	seen := make(map[string]struct{}, len(m.Services))
	for _, svc := range m.Services {
		if svc.Name == "" {
			return invalidf("migration.services entries require a name")
		}
		if _, dup := seen[svc.Name]; dup {
			return invalidf("duplicate service %q", svc.Name)
		}
		seen[svc.Name] = struct{}{}
		if svc.Rank < 0 {
			return invalidf("service %q: rank must not be negative", svc.Name)
		}
	}
	if len(m.Triggers) == 0 {
		return invalidf("migration.triggers must not be empty")
	}
	for _, t := range m.Triggers {
		if _, err := t.toModel(); err != nil {
			return err
		}
	}
	return nil
}

func validateStages(stages []int) error {
	if len(stages) == 0 {
		return invalidf("migration.stages must not be empty")
	}
	prev := 101
	for _, w := range stages {
		if w < 0 || w > 100 {
			return invalidf("stage weight %d outside 0..100", w)
		}
		if w >= prev {
			return invalidf("stage weights must be strictly decreasing, got %d after %d", w, prev)
		}
		prev = w
	}
	if stages[len(stages)-1] != 0 {
		return invalidf("final stage weight must be 0, got %d", stages[len(stages)-1])
	}
	return nil
}

// ServiceList returns the configured service inventory as domain objects.
func (m *MigrationConfig) ServiceList() []models.Service {
	services := make([]models.Service, 0, len(m.Services))
	for _, svc := range m.Services {
		services = append(services, models.Service{Name: svc.Name, Rank: svc.Rank, Port: svc.Port})
	}
	return services
}

// TriggerList converts the trigger table into domain triggers.
func (m *MigrationConfig) TriggerList() ([]models.Trigger, error) {
	triggers := make([]models.Trigger, 0, len(m.Triggers))
	for _, t := range m.Triggers {
		trigger, err := t.toModel()
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, trigger)
	}
	return triggers, nil
}

func (t TriggerConfig) toModel() (models.Trigger, error) {
	if t.Signal == "" {
		return models.Trigger{}, invalidf("trigger requires a signal selector")
	}
	if t.Window <= 0 {
		return models.Trigger{}, invalidf("trigger %q: window must be positive", t.Signal)
	}
	comparison, err := parseComparison(t.Comparison)
	if err != nil {
		return models.Trigger{}, invalidf("trigger %q: %v", t.Signal, err)
	}
	severity, err := parseSeverity(t.Severity)
	if err != nil {
		return models.Trigger{}, invalidf("trigger %q: %v", t.Signal, err)
	}
	if t.ConsecutiveFailures < 0 {
		return models.Trigger{}, invalidf("trigger %q: consecutiveFailures must be at least 1", t.Signal)
	}
	required := t.ConsecutiveFailures
	if required == 0 {
		required = 1
	}
	return models.Trigger{
		Signal:              t.Signal,
		Comparison:          comparison,
		Threshold:           t.Threshold,
		Window:              t.Window,
		ConsecutiveFailures: required,
		Severity:            severity,
	}, nil
}

func parseComparison(value string) (models.Comparison, error) {
	switch strings.ToLower(value) {
	case "gt", ">":
		return models.CompareGreater, nil
	case "lt", "<":
		return models.CompareLess, nil
	case "eq", "==":
		return models.CompareEqual, nil
	case "ne", "!=":
		return models.CompareNotEqual, nil
	default:
		return "", fmt.Errorf("unknown comparison %q", value)
	}
}

func parseSeverity(value string) (models.Severity, error) {
	switch strings.ToLower(value) {
	case "", "critical":
		return models.SeverityCritical, nil
	case "warning":
		return models.SeverityWarning, nil
	case "info":
		return models.SeverityInfo, nil
	default:
		return "", fmt.Errorf("unknown severity %q", value)
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
