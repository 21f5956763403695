package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Sink selects where checkpoints are published.
type Sink string

const (
	SinkNone    Sink = "none"
	SinkSarama  Sink = "sarama"
	SinkKafkaGo Sink = "kafka-go"
)

// Config is the soak server configuration. Zero fields take the defaults
// below; command-line flags override file values.
type Config struct {
	Collector   CollectorConfig   `yaml:"collector"`
	Soak        SoakConfig        `yaml:"soak"`
	Journal     JournalConfig     `yaml:"journal"`
	Broadcaster BroadcasterConfig `yaml:"broadcaster"`

	ListenAddr  string `yaml:"listen"`
	MetricsAddr string `yaml:"metrics_listen"`
	LogLevel    string `yaml:"log_level"`

	// Duration stops the soak after this long; zero runs until signalled.
	Duration time.Duration `yaml:"duration"`
}

type CollectorConfig struct {
	Name                   string `yaml:"name"`
	PinningsBetweenCollect uint64 `yaml:"pinnings_between_collect"`
}

type SoakConfig struct {
	Workers            int           `yaml:"workers"`
	OpsPerPin          int           `yaml:"ops_per_pin"`
	AdvanceInterval    time.Duration `yaml:"advance_interval"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

type JournalConfig struct {
	Dir string `yaml:"dir"`
}

type BroadcasterConfig struct {
	Sink       Sink          `yaml:"sink"`
	Brokers    []string      `yaml:"brokers"`
	Topic      string        `yaml:"topic"`
	Interval   time.Duration `yaml:"interval"`
	MaxRetries uint32        `yaml:"max_retries"`
}

func Default() Config {
	return Config{
		Collector: CollectorConfig{
			Name:                   "soak",
			PinningsBetweenCollect: 128,
		},
		Soak: SoakConfig{
			Workers:            4,
			OpsPerPin:          4,
			AdvanceInterval:    100 * time.Millisecond,
			CheckpointInterval: 2 * time.Second,
		},
		Journal: JournalConfig{Dir: "./journal"},
		Broadcaster: BroadcasterConfig{
			Sink:       SinkNone,
			Topic:      "ebr.checkpoints",
			Interval:   250 * time.Millisecond,
			MaxRetries: 5,
		},
		ListenAddr:  ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",
	}
}

// Load reads a YAML file over the defaults. An empty path yields Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: read %s", path)
	}
	if err := Parse(raw, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document leaves out.
// Unknown keys are rejected.
func Parse(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(err, "config: decode")
	}
	return nil
}

func (c Config) Validate() error {
	var errs error
	if c.Soak.Workers <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("soak.workers must be positive, got %d", c.Soak.Workers))
	}
	if c.Soak.OpsPerPin <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("soak.ops_per_pin must be positive, got %d", c.Soak.OpsPerPin))
	}
	if c.Collector.PinningsBetweenCollect == 0 {
		errs = errors.CombineErrors(errs, errors.New("collector.pinnings_between_collect must be positive"))
	}
	switch c.Broadcaster.Sink {
	case SinkNone:
	case SinkSarama, SinkKafkaGo:
		if len(c.Broadcaster.Brokers) == 0 {
			errs = errors.CombineErrors(errs, errors.Newf("broadcaster.brokers required for sink %q", c.Broadcaster.Sink))
		}
		if c.Broadcaster.Topic == "" {
			errs = errors.CombineErrors(errs, errors.New("broadcaster.topic required"))
		}
		if c.Journal.Dir == "" {
			errs = errors.CombineErrors(errs, errors.New("journal.dir required when publishing"))
		}
	default:
		errs = errors.CombineErrors(errs, errors.Newf("unknown broadcaster.sink %q", c.Broadcaster.Sink))
	}
	if c.Broadcaster.Interval <= 0 {
		errs = errors.CombineErrors(errs, errors.New("broadcaster.interval must be positive"))
	}
	if c.Duration < 0 {
		errs = errors.CombineErrors(errs, errors.New("duration must not be negative"))
	}
	return errs
}

// ParseBrokers splits a comma-separated broker list, dropping blanks.
func ParseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
