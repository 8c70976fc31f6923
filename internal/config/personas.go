package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// LLM defaults and limits
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultTopP        = 1.0
	DefaultMaxTokens   = 1024
	MaxTokensCap       = 2048

	DefaultPersonaName = "Sherlock Holmes"
)

// LLMParameters are the sampling settings a persona runs with
type LLMParameters struct {
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	ResponseStyle string  `json:"response_style,omitempty"`
}

// Persona is the character the trade advisor speaks as
type Persona struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	LLMParameters LLMParameters `json:"llm_parameters"`
}

// PersonaCatalog holds the personas available to the advisor
type PersonaCatalog struct {
	Personas []Persona `json:"personas"`
}

// DefaultPersona is used when no catalogue file is configured or the name is unknown
func DefaultPersona() Persona {
	return Persona{
		Name:        DefaultPersonaName,
		Description: "Methodical detective who weighs every clue and trusts evidence over hunches.",
		LLMParameters: LLMParameters{
			Temperature:   DefaultTemperature,
			TopP:          DefaultTopP,
			ResponseStyle: "Concise",
		},
	}
}

// LoadPersonas reads a {"personas": [...]} file. An empty path yields the built-in default.
func LoadPersonas(path string) (*PersonaCatalog, error) {
	if path == "" {
		return &PersonaCatalog{Personas: []Persona{DefaultPersona()}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read personas file %s: %w", path, err)
	}
	var catalog PersonaCatalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse personas file: %w", err)
	}
	if len(catalog.Personas) == 0 {
		return nil, fmt.Errorf("personas file %s has no personas", path)
	}
	return &catalog, nil
}

// Lookup returns the named persona and whether it was found.
// Unknown names fall back to the built-in default.
func (c *PersonaCatalog) Lookup(name string) (Persona, bool) {
	if c != nil {
		for _, p := range c.Personas {
			if p.Name == name {
				return p, true
			}
		}
	}
	return DefaultPersona(), false
}

// LLMSettings is the clamped tuple used to build and cache chat models
type LLMSettings struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// NewLLMSettings clamps temperature and top_p to [0,1] and caps max tokens
func NewLLMSettings(model string, temperature, topP float64, maxTokens int) LLMSettings {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return LLMSettings{
		Model:       model,
		Temperature: clamp01(temperature),
		TopP:        clamp01(topP),
		MaxTokens:   min(maxTokens, MaxTokensCap),
	}
}

// SettingsFor combines the AI config with a persona's sampling parameters
func (a AIConfig) SettingsFor(p Persona) LLMSettings {
	return NewLLMSettings(a.Model, p.LLMParameters.Temperature, p.LLMParameters.TopP, a.MaxTokens)
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
