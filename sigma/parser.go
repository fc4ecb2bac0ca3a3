package sigma

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Parser reads SIGMA YAML documents
type Parser struct{}

// NewParser creates a new SIGMA parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseDirectory parses every .yml and .yaml file below directory.
// Files that fail to parse are reported in the returned error slice and
// do not stop the walk.
func (p *Parser) ParseDirectory(directory string) ([]*SigmaRule, []error) {
	var (
		rules []*SigmaRule
		errs  []error
	)

	err := filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yml" && ext != ".yaml" {
			return nil
		}

		rule, err := p.ParseFile(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		rules = append(rules, rule)
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to walk directory: %w", err))
	}

	return rules, errs
}

// ParseFile parses a single SIGMA YAML file
func (p *Parser) ParseFile(filePath string) (*SigmaRule, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	rule, err := p.ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	rule.FilePath = filePath
	return rule, nil
}

// ParseYAML parses a SIGMA rule from YAML bytes
func (p *Parser) ParseYAML(data []byte) (*SigmaRule, error) {
	var rule SigmaRule
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SIGMA rule: %w", err)
	}

	return &rule, nil
}
