// Package workflow loads and validates declarative workflow files: the agent
// roster, backend commands, setup tasks, and the kickoff template.
package workflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jharju/weft/internal/domain"
)

// Backend type tags accepted in a workflow file.
const (
	BackendSubprocess = "subprocess"
	BackendSDK        = "sdk"
)

// Load reads and parses a workflow file.
func Load(path string) (*domain.ParsedWorkflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates workflow YAML.
func Parse(data []byte) (*domain.ParsedWorkflow, error) {
	var w domain.ParsedWorkflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow: %w", err)
	}
	if err := Validate(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate checks the structural rules a scheduler relies on.
func Validate(w *domain.ParsedWorkflow) error {
	if w.Name == "" {
		return fmt.Errorf("workflow: name is required")
	}
	if len(w.Agents) == 0 {
		return fmt.Errorf("workflow: at least one agent is required")
	}
	seen := make(map[string]bool, len(w.Agents))
	for i := range w.Agents {
		a := &w.Agents[i]
		if !domain.ValidAgentName(a.Name) {
			return fmt.Errorf("workflow: invalid agent name %q", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("workflow: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true

		switch a.Backend.Type {
		case BackendSubprocess:
			if len(a.Backend.Command) == 0 {
				return fmt.Errorf("workflow: agent %q: subprocess backend needs a command", a.Name)
			}
		case BackendSDK, "":
		default:
			return fmt.Errorf("workflow: agent %q: unknown backend type %q", a.Name, a.Backend.Type)
		}
	}
	switch w.Context.Mode {
	case "", domain.ContextEphemeral, domain.ContextBind:
	default:
		return fmt.Errorf("workflow: unknown context mode %q", w.Context.Mode)
	}
	for i, task := range w.Setup {
		if strings.TrimSpace(task.Command) == "" {
			return fmt.Errorf("workflow: setup task %d has no command", i+1)
		}
	}
	return nil
}

// Interpolate substitutes ${var} and $var references against vars. Unknown
// variables expand to the empty string.
func Interpolate(template string, vars map[string]string) string {
	return os.Expand(template, func(key string) string {
		return vars[key]
	})
}
