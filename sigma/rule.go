package sigma

import (
	"errors"
	"fmt"
)

// SigmaRule is the subset of a SIGMA rule document the converter reads
type SigmaRule struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`

	// experimental, test, stable, deprecated
	Status string `yaml:"status,omitempty" json:"status,omitempty"`
	// informational, low, medium, high, critical
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	References     []string               `yaml:"references,omitempty" json:"references,omitempty"`
	Tags           []string               `yaml:"tags,omitempty" json:"tags,omitempty"`
	Logsource      map[string]interface{} `yaml:"logsource,omitempty" json:"logsource,omitempty"`
	FalsePositives []string               `yaml:"falsepositives,omitempty" json:"falsepositives,omitempty"`

	// Detection holds the named search blocks plus the "condition" expression
	Detection map[string]interface{} `yaml:"detection" json:"detection"`

	FilePath string `yaml:"-" json:"file_path,omitempty"`
}

var (
	validStatuses = map[string]bool{"experimental": true, "test": true, "stable": true, "deprecated": true, "unsupported": true}
	validLevels   = map[string]bool{"informational": true, "low": true, "medium": true, "high": true, "critical": true}
)

// Validate checks the fields every SIGMA rule must carry
func (r *SigmaRule) Validate() error {
	if r.ID == "" {
		return errors.New("rule ID is required")
	}
	if r.Title == "" {
		return errors.New("rule title is required")
	}
	if len(r.Detection) == 0 {
		return errors.New("rule detection logic is required")
	}
	if _, ok := r.Detection[conditionKey]; !ok {
		return errors.New("detection condition is required")
	}
	if r.Status != "" && !validStatuses[r.Status] {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.Level != "" && !validLevels[r.Level] {
		return fmt.Errorf("invalid level %q", r.Level)
	}
	return nil
}

// Blocks returns the names of the detection search blocks
func (r *SigmaRule) Blocks() []string {
	names := make([]string, 0, len(r.Detection))
	for name := range r.Detection {
		if name == conditionKey || name == timeframeKey {
			continue
		}
		names = append(names, name)
	}
	return names
}
