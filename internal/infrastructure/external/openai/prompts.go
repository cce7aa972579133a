package openai

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// PromptSpec is one prompt and its model parameters
type PromptSpec struct {
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	System       string  `yaml:"system"`
	UserTemplate string  `yaml:"user_template"`
}

// PromptConfig holds the prompts used by the document validator
type PromptConfig struct {
	DocumentValidation PromptSpec `yaml:"document_validation"`
	ImageValidation    PromptSpec `yaml:"image_validation"`
}

// DefaultPrompts returns the built-in prompts
func DefaultPrompts() *PromptConfig {
	return &PromptConfig{
		DocumentValidation: PromptSpec{
			Temperature: 0.1,
			MaxTokens:   800,
			System: "You review supporting documents for medical prior-authorization requests. " +
				"Decide whether the document is legible, matches its declared type and contains the required fields. " +
				"Always respond with valid JSON.",
			UserTemplate: `Document type: {{.DocumentType}}
File name: {{.FileName}}
Required fields: {{join .RequiredFields ", "}}

Extracted text:
"""
{{.Text}}
"""

Respond with JSON: {"is_valid": bool, "notes": string, "missing_fields": [string]}`,
		},
		ImageValidation: PromptSpec{
			Temperature: 0.1,
			MaxTokens:   800,
			System: "You review scanned supporting documents for medical prior-authorization requests. " +
				"Always respond with valid JSON.",
			UserTemplate: `The attached image is a {{.DocumentType}} ({{.FileName}}).
Required fields: {{join .RequiredFields ", "}}

Respond with JSON: {"is_valid": bool, "notes": string, "missing_fields": [string]}`,
		},
	}
}

// LoadPrompts loads prompt configuration from a YAML file.
// Prompts missing from the file keep their defaults.
func LoadPrompts(promptsPath string) (*PromptConfig, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}

	prompts := DefaultPrompts()
	var loaded PromptConfig
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	if loaded.DocumentValidation.UserTemplate != "" {
		prompts.DocumentValidation = loaded.DocumentValidation
	}
	if loaded.ImageValidation.UserTemplate != "" {
		prompts.ImageValidation = loaded.ImageValidation
	}

	return prompts, nil
}

var templateFuncs = template.FuncMap{"join": strings.Join}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Funcs(templateFuncs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
