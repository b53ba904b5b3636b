// Package booking reserves a study room on the campus booking site.
package booking

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// Config is one booking request, kept as a JSON file next to the binary.
type Config struct {
	BookingDate    string  `json:"booking_date" validate:"required,datetime=2006-01-02"`
	StartTime      string  `json:"start_time" validate:"required,datetime=15:04"`
	DurationHours  float64 `json:"duration_hours" validate:"gt=0,lte=8"`
	Attendees      int     `json:"attendees" validate:"min=1,max=30"`
	StudyGroupName string  `json:"study_group_name" validate:"required"`
	ProjectName    string  `json:"project_name"`
	Building       string  `json:"building" validate:"required"`
}

// Validate checks the config using its validate tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid booking config: %w", err)
	}
	return nil
}

// LoadConfig reads and validates a booking config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read booking config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse booking config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Merge overlays updates, keyed by JSON field name, onto c and returns the
// validated result. c is left untouched.
func (c Config) Merge(updates map[string]any) (*Config, error) {
	base, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range updates {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var out Config
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, fmt.Errorf("failed to apply booking update: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Save writes the config back as indented JSON.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode booking config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write booking config: %w", err)
	}
	return nil
}
