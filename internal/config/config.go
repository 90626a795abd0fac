package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StageThresholds holds the minimum confidence a rule stage must exceed to be accepted.
type StageThresholds struct {
	Signature   float64 `yaml:"signature"`
	Port        float64 `yaml:"port"`
	Statistical float64 `yaml:"statistical"`
}

// ClassifierConfig selects and tunes the classification strategies.
type ClassifierConfig struct {
	Mode        string          `yaml:"mode"`        // "rule" or "model"
	Arbitration string          `yaml:"arbitration"` // "first" (early exit) or "best"
	Thresholds  StageThresholds `yaml:"thresholds"`

	ModelPath                string  `yaml:"model_path"`
	ModelConfidenceThreshold float64 `yaml:"model_confidence_threshold"`
	FallbackConfidence       float64 `yaml:"fallback_confidence"`
	ONNXRuntimeLib           string  `yaml:"onnxruntime_lib"`
}

// TierConfig is one priority tier: a set of classes sharing a base priority.
type TierConfig struct {
	Base    int      `yaml:"base"`
	Classes []string `yaml:"classes"`
}

// PriorityConfig holds the priority-mapping parameters.
type PriorityConfig struct {
	High            TierConfig `yaml:"high"`
	Medium          TierConfig `yaml:"medium"`
	Low             TierConfig `yaml:"low"`
	DefaultBase     int        `yaml:"default_base"`
	ConfidenceBoost int        `yaml:"confidence_boost"`
	Ceiling         int        `yaml:"ceiling"`
}

// TrackerConfig holds the flow-state table parameters.
type TrackerConfig struct {
	WindowSize    int    `yaml:"window_size"`
	NumShards     uint32 `yaml:"num_shards"`
	MaxFlows      int    `yaml:"max_flows"`
	IdleTimeout   string `yaml:"idle_timeout"`
	SweepInterval string `yaml:"sweep_interval"`
}

// ManagerConfig holds the worker pool parameters.
type ManagerConfig struct {
	NumWorkers          int `yaml:"num_workers"`
	SizeOfPacketChannel int `yaml:"size_of_packet_channel"`
	ReportEvery         int `yaml:"report_every"`
}

// NATSConfig holds the dataplane transport settings.
type NATSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	PacketSubject   string `yaml:"packet_subject"`
	DecisionSubject string `yaml:"decision_subject"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TextWriterConfig holds the settings of the plain text decision log.
type TextWriterConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines one decision-log writer.
type WriterDef struct {
	Type          string           `yaml:"type"` // "text" or "clickhouse"
	Enabled       bool             `yaml:"enabled"`
	FlushInterval string           `yaml:"flush_interval"`
	Text          TextWriterConfig `yaml:"text"`
	ClickHouse    ClickHouseConfig `yaml:"clickhouse"`
}

// DecisionLogConfig holds all decision-log writers.
type DecisionLogConfig struct {
	Writers []WriterDef `yaml:"writers"`
}

// SnapshotConfig controls periodic flow-table snapshots.
type SnapshotConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RootPath string `yaml:"root_path"`
	Interval string `yaml:"interval"`
}

// APIConfig holds the listen addresses of the query surfaces.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"` // "console" or "json"
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Priority    PriorityConfig    `yaml:"priority"`
	Tracker     TrackerConfig     `yaml:"tracker"`
	Manager     ManagerConfig     `yaml:"manager"`
	NATS        NATSConfig        `yaml:"nats"`
	DecisionLog DecisionLogConfig `yaml:"decision_log"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	API         APIConfig         `yaml:"api"`
	Log         LogConfig         `yaml:"log"`
}

// Default returns a configuration that runs the rule-based strategy with the
// reference thresholds and priority tiers.
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			Mode:        "rule",
			Arbitration: "first",
			Thresholds: StageThresholds{
				Signature:   0.7,
				Port:        0.5,
				Statistical: 0.4,
			},
			ModelPath:                "models/traffic_classifier.bundle",
			ModelConfidenceThreshold: 0.3,
			FallbackConfidence:       0.3,
		},
		Priority: PriorityConfig{
			High: TierConfig{
				Base:    3000,
				Classes: []string{"DNS", "VOIP", "Video-Streaming", "Audio-Streaming", "Chat", "Gaming", "ICMP"},
			},
			Medium: TierConfig{
				Base:    2000,
				Classes: []string{"Browsing", "Email", "SSH"},
			},
			Low: TierConfig{
				Base:    1000,
				Classes: []string{"File-Transfer", "P2P", "Bulk", "TCP-Generic", "UDP-Generic"},
			},
			DefaultBase:     1000,
			ConfidenceBoost: 500,
			Ceiling:         3500,
		},
		Tracker: TrackerConfig{
			WindowSize:    1024,
			NumShards:     256,
			MaxFlows:      1 << 18,
			IdleTimeout:   "5m",
			SweepInterval: "30s",
		},
		Manager: ManagerConfig{
			NumWorkers:          4,
			SizeOfPacketChannel: 4096,
			ReportEvery:         200,
		},
		NATS: NATSConfig{
			URL:             "nats://127.0.0.1:4222",
			PacketSubject:   "qos.packets.in",
			DecisionSubject: "qos.decisions",
		},
		Snapshot: SnapshotConfig{
			RootPath: "snapshots",
			Interval: "1m",
		},
		API: APIConfig{
			ListenAddr:     ":8080",
			GRPCListenAddr: ":50051",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of the defaults
// and validates the result.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that must not reach the packet path.
func (c *Config) Validate() error {
	var errs []error

	switch c.Classifier.Mode {
	case "rule", "model":
	default:
		errs = append(errs, fmt.Errorf("classifier.mode: unknown mode %q", c.Classifier.Mode))
	}
	switch c.Classifier.Arbitration {
	case "first", "best":
	default:
		errs = append(errs, fmt.Errorf("classifier.arbitration: unknown policy %q", c.Classifier.Arbitration))
	}
	for name, v := range map[string]float64{
		"thresholds.signature":       c.Classifier.Thresholds.Signature,
		"thresholds.port":            c.Classifier.Thresholds.Port,
		"thresholds.statistical":     c.Classifier.Thresholds.Statistical,
		"model_confidence_threshold": c.Classifier.ModelConfidenceThreshold,
		"fallback_confidence":        c.Classifier.FallbackConfidence,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("classifier.%s: %v is outside [0,1]", name, v))
		}
	}

	p := c.Priority
	if !(p.High.Base > p.Medium.Base && p.Medium.Base > p.Low.Base) {
		errs = append(errs, fmt.Errorf("priority: tiers must be strictly decreasing, got high=%d medium=%d low=%d",
			p.High.Base, p.Medium.Base, p.Low.Base))
	}
	if p.Low.Base < 0 || p.DefaultBase < 0 {
		errs = append(errs, errors.New("priority: base values must not be negative"))
	}
	if p.ConfidenceBoost < 0 {
		errs = append(errs, errors.New("priority.confidence_boost must not be negative"))
	}
	if p.Ceiling < p.High.Base {
		errs = append(errs, fmt.Errorf("priority.ceiling %d is below the high tier base %d", p.Ceiling, p.High.Base))
	}
	seen := make(map[string]string)
	for tier, classes := range map[string][]string{"high": p.High.Classes, "medium": p.Medium.Classes, "low": p.Low.Classes} {
		for _, class := range classes {
			if other, dup := seen[class]; dup {
				errs = append(errs, fmt.Errorf("priority: class %q is in both %s and %s tiers", class, other, tier))
			}
			seen[class] = tier
		}
	}

	if c.Tracker.WindowSize <= 0 {
		errs = append(errs, errors.New("tracker.window_size must be positive"))
	}
	if c.Tracker.MaxFlows <= 0 {
		errs = append(errs, errors.New("tracker.max_flows must be positive"))
	}
	if _, err := c.Tracker.IdleTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Tracker.SweepIntervalDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Manager.NumWorkers <= 0 {
		errs = append(errs, errors.New("manager.num_workers must be positive"))
	}
	for _, w := range c.DecisionLog.Writers {
		if !w.Enabled {
			continue
		}
		if _, err := time.ParseDuration(w.FlushInterval); err != nil {
			errs = append(errs, fmt.Errorf("decision_log writer %q: invalid flush_interval: %w", w.Type, err))
		}
	}
	if c.Snapshot.Enabled {
		if _, err := time.ParseDuration(c.Snapshot.Interval); err != nil {
			errs = append(errs, fmt.Errorf("snapshot.interval: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// IdleTimeoutDuration parses the idle timeout. Zero disables the TTL sweep.
func (t TrackerConfig) IdleTimeoutDuration() (time.Duration, error) {
	return parseOptionalDuration("tracker.idle_timeout", t.IdleTimeout)
}

// SweepIntervalDuration parses the sweep interval.
func (t TrackerConfig) SweepIntervalDuration() (time.Duration, error) {
	return parseOptionalDuration("tracker.sweep_interval", t.SweepInterval)
}

func parseOptionalDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return d, nil
}
