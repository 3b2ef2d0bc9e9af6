package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/common/validation"
	"github.com/vnykmshr/goshaper/pkg/sim/kernel"
	"github.com/vnykmshr/goshaper/pkg/sim/probe"
)

// Config describes one simulation scenario. Field names follow the YAML
// scenario format.
type Config struct {
	// Name identifies the run in logs and stored summaries.
	Name string `yaml:"name" json:"name"`

	// Duration is the simulated horizon in virtual seconds.
	Duration float64 `yaml:"duration" json:"duration"`

	// Seed selects the random stream of the traffic source.
	Seed uint64 `yaml:"seed" json:"seed"`

	Source SourceConfig `yaml:"source" json:"source"`
	Shaper ShaperConfig `yaml:"shaper" json:"shaper"`
	Probe  ProbeConfig  `yaml:"probe" json:"probe"`
}

// SourceConfig configures the packet generator.
type SourceConfig struct {
	// MeanInterArrivalTime is the mean exponential gap between packets, in seconds.
	MeanInterArrivalTime float64 `yaml:"meanInterArrivalTime" json:"meanInterArrivalTime"`

	// MaxPackets stops the source after that many packets (0 = unlimited).
	MaxPackets uint64 `yaml:"maxPackets" json:"maxPackets"`
}

// ShaperConfig configures the token-bucket shaper.
type ShaperConfig struct {
	QueueSize  int     `yaml:"queueSize" json:"queueSize"`
	TokenRate  float64 `yaml:"tokenRate" json:"tokenRate"`
	BucketSize int     `yaml:"bucketSize" json:"bucketSize"`
}

// ProbeConfig configures periodic state sampling. An empty Schedule disables it.
type ProbeConfig struct {
	Schedule string `yaml:"schedule" json:"schedule"`
}

// DefaultConfig returns a one-minute scenario where arrivals outpace the
// token rate, so the queue and drop paths are exercised.
func DefaultConfig() Config {
	return Config{
		Name:     "default",
		Duration: 60,
		Seed:     1,
		Source: SourceConfig{
			MeanInterArrivalTime: 0.4,
		},
		Shaper: ShaperConfig{
			QueueSize:  10,
			TokenRate:  2,
			BucketSize: 5,
		},
		Probe: ProbeConfig{
			Schedule: "@every 10s",
		},
	}
}

// Validate checks every field and returns the first problem found.
func (c Config) Validate() error {
	if err := validation.ValidateNotEmpty("simulation", "name", c.Name); err != nil {
		return err
	}
	if err := validation.ValidatePositiveFloat("simulation", "duration", c.Duration); err != nil {
		return err
	}
	if c.Duration > float64(kernel.MaxTime) {
		return gserrors.NewValidationError("simulation", "duration", c.Duration, "exceeds the virtual time range").
			WithHint(fmt.Sprintf("keep duration at or below %.0f seconds", float64(kernel.MaxTime)))
	}
	if err := validation.ValidatePositiveFloat("simulation", "source.meanInterArrivalTime", c.Source.MeanInterArrivalTime); err != nil {
		return err
	}
	if err := validation.ValidatePositive("simulation", "shaper.queueSize", c.Shaper.QueueSize); err != nil {
		return err
	}
	if err := validation.ValidatePositive("simulation", "shaper.bucketSize", c.Shaper.BucketSize); err != nil {
		return err
	}
	if err := validation.ValidatePositiveFloat("simulation", "shaper.tokenRate", c.Shaper.TokenRate); err != nil {
		return err
	}
	if c.Probe.Schedule != "" {
		if _, err := probe.ParseSchedule(c.Probe.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// Parse decodes a YAML scenario over DefaultConfig. Unknown keys are
// rejected. The result is not validated.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse scenario: %w", err)
	}
	return cfg, nil
}

// Load reads and parses a YAML scenario file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load scenario: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
