package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// defaultConfigTemplate is written on first run. Comments document the units
// so users editing by hand do not have to guess.
const defaultConfigTemplate = `# dosetap configuration
#
# db_path: where the event log lives (default: ~/.dosetap/dosetap.db)
# db_path: /path/to/dosetap.db

# Dose-window timing. All values are whole minutes.
window:
  min_interval_minutes: 150
  max_interval_minutes: 240
  snooze_extension_minutes: 10
  max_snoozes: 3
  near_close_threshold_minutes: 15

# Nightly schedule boundaries (local time).
schedule:
  rollover_hour: 18
  prep_time: "20:30"
  wake_time: "07:00"
  checkin_grace_hours: 4

# Tracing of engine mutations. Disabled by default.
tracing:
  enabled: false
  exporter: file
  sample_rate: 1.0

# Feature flags.
# flags:
#   strict-dose2-validation: false
#   event-cache: true
`

// WriteDefaultConfig writes the commented default config to path, creating
// parent directories as needed. Fails if the file already exists.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil { //nolint:gosec // config holds no secrets
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}

// SaveSchedule updates the schedule section in the config file.
// This preserves comments and formatting in other sections by using yaml.Node.
func SaveSchedule(configPath string, schedule ScheduleConfig) error {
	data, err := os.ReadFile(configPath) //nolint:gosec // G304: user-chosen config path
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	scheduleNode, err := buildScheduleNode(schedule)
	if err != nil {
		return fmt.Errorf("building schedule node: %w", err)
	}

	if doc.Kind == 0 {
		// Empty or new file - create document structure
		doc = yaml.Node{
			Kind: yaml.DocumentNode,
			Content: []*yaml.Node{
				{
					Kind: yaml.MappingNode,
					Content: []*yaml.Node{
						{Kind: yaml.ScalarNode, Value: "schedule"},
						scheduleNode,
					},
				},
			},
		}
	} else if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root := doc.Content[0]
		if root.Kind == yaml.MappingNode {
			// Find and replace the schedule key, or append it
			found := false
			for i := 0; i < len(root.Content)-1; i += 2 {
				if root.Content[i].Value == "schedule" {
					root.Content[i+1] = scheduleNode
					found = true
					break
				}
			}
			if !found {
				root.Content = append(root.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: "schedule"},
					scheduleNode,
				)
			}
		}
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, buf.Bytes(), 0644); err != nil { //nolint:gosec // config holds no secrets
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// buildScheduleNode marshals the schedule into a yaml mapping node.
func buildScheduleNode(schedule ScheduleConfig) (*yaml.Node, error) {
	// Marshal through an anonymous struct so the yaml keys match the
	// mapstructure tags used on load.
	shaped := struct {
		RolloverHour      int    `yaml:"rollover_hour"`
		PrepTime          string `yaml:"prep_time"`
		WakeTime          string `yaml:"wake_time"`
		CheckInGraceHours int    `yaml:"checkin_grace_hours"`
	}{
		RolloverHour:      schedule.RolloverHour,
		PrepTime:          schedule.PrepTime,
		WakeTime:          schedule.WakeTime,
		CheckInGraceHours: schedule.CheckInGraceHours,
	}

	raw, err := yaml.Marshal(shaped)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		return node.Content[0], nil
	}
	return &node, nil
}
