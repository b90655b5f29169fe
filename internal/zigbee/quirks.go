package zigbee

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Quirk captures per-model deviations from standard behavior. Some
// devices never answer liveness probes; some report on intervals far
// outside the profile defaults.
type Quirk struct {
	Model string `yaml:"model"`

	// PassiveCheckin marks devices that never answer a basic-cluster
	// read. Availability for these relies on reports alone, the same
	// treatment LUMI devices get unconditionally.
	PassiveCheckin bool `yaml:"passive_checkin"`

	// AvailabilityTimeout overrides the power-source default.
	AvailabilityTimeout time.Duration `yaml:"availability_timeout"`
}

// UnmarshalYAML accepts durations in Go syntax ("30m", "12h").
func (q *Quirk) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Model               string `yaml:"model"`
		PassiveCheckin      bool   `yaml:"passive_checkin"`
		AvailabilityTimeout string `yaml:"availability_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	q.Model = raw.Model
	q.PassiveCheckin = raw.PassiveCheckin
	if raw.AvailabilityTimeout != "" {
		d, err := time.ParseDuration(raw.AvailabilityTimeout)
		if err != nil {
			return fmt.Errorf("invalid availability_timeout for %q: %w", raw.Model, err)
		}
		q.AvailabilityTimeout = d
	}
	return nil
}

type quirksFile struct {
	Quirks []Quirk `yaml:"quirks"`
}

// LoadQuirksFile reads a quirks YAML file into the registry. Quirks
// are keyed by exact model string.
func (r *ClusterRegistry) LoadQuirksFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read quirks file: %w", err)
	}
	var file quirksFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse quirks file: %w", err)
	}
	for _, q := range file.Quirks {
		if q.Model == "" {
			return fmt.Errorf("quirk entry without a model in %s", path)
		}
		r.quirks[q.Model] = q
	}
	return nil
}

// Quirk returns the quirk for a model, if one is registered.
func (r *ClusterRegistry) Quirk(model string) (Quirk, bool) {
	q, ok := r.quirks[model]
	return q, ok
}
