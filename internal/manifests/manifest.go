// Package manifests loads the per-job-kind tool manifests: the prompt sent to
// the analysis tool, its budget, and the JSON Schema its result must satisfy.
package manifests

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jimdaga/docpilot/internal/models"
	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"
)

// Manifest is one parsed <kind>.yaml file.
type Manifest struct {
	Kind           models.JobKind `yaml:"kind"`
	Version        string         `yaml:"version"`
	Description    string         `yaml:"description"`
	TimeoutSeconds int            `yaml:"timeout_seconds"`
	MaxTurns       int            `yaml:"max_turns"`
	Prompt         string         `yaml:"prompt"`
	ResultSchema   string         `yaml:"result_schema"`

	Checksum string `yaml:"-"`
	Source   string `yaml:"-"`

	prompt *template.Template
	schema *jsonschema.Schema
}

// Parse decodes and compiles a manifest. Unknown keys are rejected so typos
// surface at startup instead of silently falling back to defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if !m.Kind.Valid() {
		return nil, fmt.Errorf("manifest has unknown kind %q", m.Kind)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("manifest %s missing required field: version", m.Kind)
	}
	if strings.TrimSpace(m.Prompt) == "" {
		return nil, fmt.Errorf("manifest %s missing required field: prompt", m.Kind)
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = 600
	}

	tmpl, err := template.New(string(m.Kind)).Option("missingkey=zero").Parse(m.Prompt)
	if err != nil {
		return nil, fmt.Errorf("manifest %s has invalid prompt: %w", m.Kind, err)
	}
	m.prompt = tmpl

	if m.ResultSchema != "" {
		schema, err := jsonschema.NewCompiler().Compile([]byte(m.ResultSchema))
		if err != nil {
			return nil, fmt.Errorf("manifest %s has invalid result schema: %w", m.Kind, err)
		}
		m.schema = schema
	}

	sum := sha256.Sum256(data)
	m.Checksum = hex.EncodeToString(sum[:])
	return &m, nil
}

// Timeout is the wall-clock budget of one tool run.
func (m *Manifest) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// RenderPrompt executes the prompt template against the job context.
func (m *Manifest) RenderPrompt(data map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	if err := m.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", m.Kind, err)
	}
	return buf.String(), nil
}
