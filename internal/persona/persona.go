// Package persona defines the clinic assistant's voice: the system prompt
// injected ahead of every forwarded conversation, the greetings used to open
// a chat panel, and the treatment menu folded into the prompt.
package persona

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultFS embed.FS

// Treatment is one entry of the clinic's service menu.
type Treatment struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// Persona is the business content of the assistant. It is configuration,
// not behavior: swapping the file changes the voice, never the protocol.
type Persona struct {
	Name         string      `yaml:"name"`
	SystemPrompt string      `yaml:"systemPrompt"`
	Greetings    []string    `yaml:"greetings,omitempty"`
	Treatments   []Treatment `yaml:"treatments,omitempty"`
}

// Default returns the embedded clinic persona.
func Default() *Persona {
	data, err := defaultFS.ReadFile("default.yaml")
	if err != nil {
		// The file is compiled in; failing to read it is a build defect.
		panic(fmt.Sprintf("persona: embedded default missing: %v", err))
	}
	p, err := parse(data)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded default invalid: %v", err))
	}
	return p
}

// Load reads a persona from a YAML file. An empty path returns the embedded
// default.
func Load(path string) (*Persona, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read persona file %s: %w", path, err)
	}
	p, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("cannot parse persona file %s: %w", path, err)
	}
	return p, nil
}

func parse(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return nil, fmt.Errorf("systemPrompt is required")
	}
	return &p, nil
}

// RenderSystemPrompt returns the full system message content: the base
// prompt plus the treatment menu, so the model answers from the clinic's
// actual offering instead of inventing one.
func (p *Persona) RenderSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(p.SystemPrompt))
	if len(p.Treatments) > 0 {
		sb.WriteString("\n\nTreatments offered:\n")
		for _, t := range p.Treatments {
			sb.WriteString("- ")
			sb.WriteString(t.Name)
			if t.Description != "" {
				sb.WriteString(" (")
				sb.WriteString(t.Description)
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Greeting returns the nth greeting, rotating through the configured list.
// Deterministic so tests and transcript replays are stable.
func (p *Persona) Greeting(n int) string {
	if len(p.Greetings) == 0 {
		return "Hello! How can I help you today?"
	}
	if n < 0 {
		n = -n
	}
	return p.Greetings[n%len(p.Greetings)]
}
