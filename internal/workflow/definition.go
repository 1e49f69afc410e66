// Package workflow runs named multi-step automations: ordered heterogeneous
// steps (ssh, http, s3) executed sequentially with per-step fail-fast
// control. Workflows are caller-driven and independent of the response
// scheduler.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Step is one unit of a workflow. When Template is set it is rendered
// against the run context and must produce a JSON object that replaces
// Config; otherwise Config is used as-is.
type Step struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Config   map[string]any `yaml:"config,omitempty"`
	Template string         `yaml:"template,omitempty"`
	FailFast *bool          `yaml:"fail_fast,omitempty"`
}

// failFast reports whether a failure of this step aborts the remaining
// steps. Unset means true.
func (s Step) failFast() bool {
	return s.FailFast == nil || *s.FailFast
}

// Definition is a named workflow. Schedule, when set, is a cron expression
// the scheduler uses to run the workflow periodically with Context as the
// run context.
type Definition struct {
	Name     string         `yaml:"name"`
	Schedule string         `yaml:"schedule,omitempty"`
	Context  map[string]any `yaml:"context,omitempty"`
	Steps    []Step         `yaml:"steps"`
}

// Validate checks the structural invariants of a definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow requires a name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s: step %d has no name", d.Name, i)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %s: duplicate step name %q", d.Name, step.Name)
		}
		seen[step.Name] = true
		if step.Type == "" {
			return fmt.Errorf("workflow %s: step %q has no type", d.Name, step.Name)
		}
		if step.Template == "" && len(step.Config) == 0 {
			return fmt.Errorf("workflow %s: step %q has neither config nor template", d.Name, step.Name)
		}
	}
	return nil
}

// LoadFile reads one workflow definition from a YAML file.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("workflow file %s: %w", path, err)
	}
	return &def, nil
}

// LoadDir reads every .yaml/.yml file in a directory as one workflow each,
// in name order. A missing directory yields no workflows rather than an
// error so the engine can run without any automations configured.
func LoadDir(dir string) ([]*Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
